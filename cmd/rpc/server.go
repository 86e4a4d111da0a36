package rpc

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/canopy-network/layercast/controller"
	"github.com/canopy-network/layercast/lib"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/cors"
)

const (
	SoftwareVersion = "0.1.0"
	ContentType     = "Content-Type"
	ApplicationJSON = "application/json; charset=utf-8"
)

// Server represents the status and admin RPC server of a process
type Server struct {
	// process controller
	controller *controller.Controller

	// process configuration
	config lib.Config

	// the underlying http server and its listener, set by Start()
	server   *http.Server
	listener net.Listener

	logger lib.LoggerI
}

// NewServer constructs and returns a new RPC server
func NewServer(controller *controller.Controller, config lib.Config, logger lib.LoggerI) *Server {
	return &Server{
		controller: controller,
		config:     config,
		logger:     logger,
	}
}

// Start binds the listen address and serves the RPC in the background
func (s *Server) Start() lib.ErrorI {
	listener, err := net.Listen("tcp", s.config.ListenAddress)
	if err != nil {
		return ErrListen(s.config.ListenAddress, err)
	}
	// Create CORS policy
	cor := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS", "POST"},
	})
	// Create a default timeout for HTTP requests
	timeout := time.Duration(s.config.RPCConfig.TimeoutS) * time.Second
	s.server = &http.Server{
		Handler:           cor.Handler(http.TimeoutHandler(createRouter(s), timeout, ErrServerTimeout().Error())),
		ReadHeaderTimeout: timeout,
	}
	s.listener = listener
	s.logger.Infof("Starting RPC server at %s", listener.Addr())
	go func() {
		if e := s.server.Serve(listener); e != nil && e != http.ErrServerClosed {
			s.logger.Errorf("RPC server failed with err: %s", e.Error())
		}
	}()
	return nil
}

// Addr returns the bound address of the server, nil before Start
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop gracefully shuts down the RPC server
func (s *Server) Stop() {
	if s.server == nil {
		return
	}
	if err := s.server.Shutdown(context.Background()); err != nil {
		s.logger.Error(err.Error())
	}
}

// logHandler logs incoming RPC calls at debug level
type logHandler struct {
	path   string
	h      httprouter.Handle
	logger lib.LoggerI
}

// Handle
func (h logHandler) Handle(resp http.ResponseWriter, req *http.Request, p httprouter.Params) {
	h.logger.Debugf("RPC %s %s", req.Method, h.path)
	h.h(resp, req, p)
}

// write marshaled payload to w
func write(w http.ResponseWriter, payload interface{}, code int) {
	w.Header().Set(ContentType, ApplicationJSON)
	w.WriteHeader(code)
	// Marshal and indent the payload
	bz, _ := json.MarshalIndent(payload, "", "  ")
	_, _ = w.Write(bz)
}
