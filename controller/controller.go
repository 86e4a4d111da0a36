package controller

import (
	"sync"
	"sync/atomic"

	"github.com/canopy-network/layercast/bcast"
	"github.com/canopy-network/layercast/lib"
	"github.com/canopy-network/layercast/p2p"
)

// Controller acts as the 'manager' of the modules of a process
type Controller struct {
	Config   lib.Config
	View     *lib.ProcessView
	Layer    bcast.Layer
	Link     *p2p.PerfectLink
	Metrics  *lib.Metrics
	EventLog *lib.EventLog
	log      lib.LoggerI

	layerName  string
	broadcasts atomic.Int32 // 'b' events logged
	deliveries atomic.Int64 // 'd' events logged
	sendMux    sync.Mutex   // serializes BroadcastN so logged and assigned sequence numbers agree

	release     chan struct{} // closed once the start signal arrives
	releaseOnce sync.Once
	stopOnce    sync.Once
	stopped     atomic.Bool
}

// New() creates a new instance of a Controller, this is the entry point when initializing a process
func New(c lib.Config, view *lib.ProcessView, l lib.LoggerI) (*Controller, lib.ErrorI) {
	outputDir := c.BroadcastConfig.OutputDir
	if outputDir == "" {
		outputDir = c.DataDirPath
	}
	eventLog, err := lib.NewEventLog(outputDir, view.ID)
	if err != nil {
		return nil, err
	}
	controller := &Controller{
		Config:    c,
		View:      view,
		Metrics:   lib.NewMetricsServer(view.ID, c.MetricsConfig, l),
		EventLog:  eventLog,
		log:       l,
		layerName: c.BroadcastConfig.GetLayer(),
		release:   make(chan struct{}),
	}
	controller.Layer, err = bcast.NewLayer(controller.layerName, view, controller.newLink, controller.onDeliver, controller.Metrics, l.WithPrefix(controller.layerName))
	if err != nil {
		_ = eventLog.Close()
		return nil, err
	}
	return controller, nil
}

// newLink() binds the process' socket and wraps it in a perfect link
func (c *Controller) newLink(deliver lib.DeliverFunc) (bcast.Link, lib.ErrorI) {
	conn, err := p2p.ListenUDP(c.View.Address, c.Config.LinkConfig, c.log)
	if err != nil {
		return nil, err
	}
	c.Link = p2p.NewPerfectLink(c.View, conn, c.Config.LinkConfig, deliver, c.Metrics, c.log.WithPrefix("link"))
	return c.Link, nil
}

// Start() begins the Controller service
func (c *Controller) Start() {
	c.Metrics.Start()
	c.Layer.Start()
	c.log.Infof("Process %d listening on %s with %s broadcast across %d processes", c.View.ID, c.View.Address, c.layerName, c.View.NumProcesses())
}

// Release() opens the start gate; safe to call more than once
func (c *Controller) Release() {
	c.releaseOnce.Do(func() {
		c.log.Info("Start signal received")
		close(c.release)
	})
}

// Released() returns a channel closed once the start gate is open
func (c *Controller) Released() <-chan struct{} { return c.release }

// BroadcastN() performs k broadcasts, logging each 'b' event before the broadcast is issued
func (c *Controller) BroadcastN(k int) lib.ErrorI {
	c.sendMux.Lock()
	defer c.sendMux.Unlock()
	for i := 0; i < k; i++ {
		if c.stopped.Load() {
			return p2p.ErrLinkStopped()
		}
		expected := c.broadcasts.Load() + 1
		if err := c.EventLog.Broadcast(expected); err != nil {
			return err
		}
		c.broadcasts.Store(expected)
		seq, err := c.Layer.Broadcast()
		if err != nil {
			c.log.Errorf("Broadcast %d failed with err: %s", seq, err.Error())
		}
		if seq != expected {
			c.log.Warnf("Broadcast logged as %d was assigned %d", expected, seq)
		}
	}
	c.log.Infof("Done broadcasting %d messages", k)
	return nil
}

// onDeliver() records a delivery of the broadcast layer in the event log
func (c *Controller) onDeliver(msg *lib.Message) {
	origin, seq, err := bcast.DecodeSeq(c.layerName, msg, c.View.NumProcesses())
	if err != nil {
		c.log.Warnf("Undecodable delivery from %d: %s", msg.Origin, err.Error())
		return
	}
	if err = c.EventLog.Deliver(origin, seq); err != nil {
		c.log.Errorf("Recording delivery (%d, %d) failed with err: %s", origin, seq, err.Error())
		return
	}
	c.deliveries.Add(1)
}

// Flush() writes the buffered events to disk
func (c *Controller) Flush() lib.ErrorI { return c.EventLog.Flush() }

// Stop() terminates the Controller service and closes the event log
func (c *Controller) Stop() (err lib.ErrorI) {
	c.stopOnce.Do(func() {
		c.stopped.Store(true)
		c.Layer.Stop()
		c.Metrics.Stop()
		if err = c.EventLog.Close(); err != nil {
			c.log.Errorf("Closing the event log failed with err: %s", err.Error())
			return
		}
		c.log.Infof("Event log written to %s", c.EventLog.Path())
	})
	return
}

// Status is a point in time snapshot of the process
type Status struct {
	ID          lib.ProcessID   `json:"id"`
	Address     string          `json:"address"`
	Layer       string          `json:"layer"`
	Processes   int             `json:"processes"`
	Released    bool            `json:"released"`
	Broadcasts  int32           `json:"broadcasts"`
	Deliveries  int64           `json:"deliveries"`
	Buffered    int             `json:"buffered"`
	Undelivered int             `json:"undelivered"`
	EventLog    string          `json:"eventLog"`
	Link        *p2p.LinkStatus `json:"link,omitempty"`
}

// Status() returns the current status of the process
func (c *Controller) Status() *Status {
	s := &Status{
		ID:          c.View.ID,
		Address:     c.View.Address.String(),
		Layer:       c.layerName,
		Processes:   c.View.NumProcesses(),
		Broadcasts:  c.broadcasts.Load(),
		Deliveries:  c.deliveries.Load(),
		Buffered:    c.Layer.Buffered(),
		Undelivered: c.Layer.Undelivered(),
		EventLog:    c.EventLog.Path(),
	}
	select {
	case <-c.release:
		s.Released = true
	default:
	}
	if c.Link != nil {
		s.Link = c.Link.Status()
	}
	return s
}
