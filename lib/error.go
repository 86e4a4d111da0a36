package lib

import (
	"fmt"
	"math"
)

type ErrorI interface {
	Code() ErrorCode     // Returns the error code
	Module() ErrorModule // Returns the error module
	error                // Implements the built-in error interface
}

var _ ErrorI = &Error{} // Ensures *Error implements ErrorI

type ErrorCode uint32 // Defines a type for error codes

type ErrorModule string // Defines a type for error modules

type Error struct {
	ECode   ErrorCode   `json:"code"`   // Error code
	EModule ErrorModule `json:"module"` // Error module
	Msg     string      `json:"msg"`    // Error message
}

func NewError(code ErrorCode, module ErrorModule, msg string) *Error {
	// Constructs a new Error instance
	return &Error{ECode: code, EModule: module, Msg: msg}
}

// Code() returns the associated error code
func (p *Error) Code() ErrorCode { return p.ECode }

// Module() returns module field
func (p *Error) Module() ErrorModule { return p.EModule }

// String() calls Error()
func (p *Error) String() string { return p.Error() }

// Error() returns a formatted string including module, code and message
func (p *Error) Error() string {
	return fmt.Sprintf("\nModule:  %s\nCode:    %d\nMessage: %s", p.EModule, p.ECode, p.Msg)
}

const (
	NoCode ErrorCode = math.MaxUint32

	// Main Module
	MainModule ErrorModule = "main"

	// Main Module Error Codes
	CodeInvalidAddress    ErrorCode = 1
	CodeJSONMarshal       ErrorCode = 2
	CodeJSONUnmarshal     ErrorCode = 3
	CodeWriteFile         ErrorCode = 4
	CodeReadFile          ErrorCode = 5
	CodeInvalidMembership ErrorCode = 7
	CodeInvalidProcessID  ErrorCode = 8
	CodeInvalidEventLog   ErrorCode = 9
	CodeShortFrame        ErrorCode = 10
	CodeUnknownFrameKind  ErrorCode = 11
	CodeFIFOPayloadLength ErrorCode = 12
	CodeVectorLength      ErrorCode = 13
	CodeNilMessage        ErrorCode = 14
	CodeFrameTooLarge     ErrorCode = 15

	// P2P Module
	P2PModule ErrorModule = "p2p"

	// P2P Module Error Codes
	CodeFailedRead    ErrorCode = 1
	CodeFailedWrite   ErrorCode = 2
	CodeFailedListen  ErrorCode = 3
	CodeUnknownPeer   ErrorCode = 4
	CodeUnknownSender ErrorCode = 5
	CodeLinkStopped   ErrorCode = 6
	CodeUnexpectedAck ErrorCode = 7
	CodeSendToSelf    ErrorCode = 8

	// Broadcast Module
	BroadcastModule ErrorModule = "bcast"

	// Broadcast Module Error Codes
	CodeNilDeliver        ErrorCode = 1
	CodeWrongOrigin       ErrorCode = 2
	CodeFIFOViolation     ErrorCode = 3
	CodeCausalViolation   ErrorCode = 4
	CodeUnknownBroadcast  ErrorCode = 5
	CodeUnknownLayer      ErrorCode = 6
	CodeDuplicateDelivery ErrorCode = 7

	RPCModule       ErrorModule = "rpc"
	CodeRPCTimeout  ErrorCode   = 1
	CodeListen      ErrorCode   = 2
	CodePostRequest ErrorCode   = 3
	CodeGetRequest  ErrorCode   = 4
	CodeHttpStatus  ErrorCode   = 5
	CodeReadBody    ErrorCode   = 6
)

// error implementations below for the `lib` package
func newLogError(err error) ErrorI {
	return NewError(NoCode, MainModule, err.Error())
}

func ErrJSONMarshal(err error) ErrorI {
	return NewError(CodeJSONMarshal, MainModule, fmt.Sprintf("json.marshal() failed with err: %s", err.Error()))
}

func ErrJSONUnmarshal(err error) ErrorI {
	return NewError(CodeJSONUnmarshal, MainModule, fmt.Sprintf("json.unmarshal() failed with err: %s", err.Error()))
}

func ErrWriteFile(err error) ErrorI {
	return NewError(CodeWriteFile, MainModule, fmt.Sprintf("os.WriteFile() failed with err: %s", err.Error()))
}

func ErrReadFile(err error) ErrorI {
	return NewError(CodeReadFile, MainModule, fmt.Sprintf("os.ReadFile() failed with err: %s", err.Error()))
}

func ErrInvalidAddress(address string, err error) ErrorI {
	return NewError(CodeInvalidAddress, MainModule, fmt.Sprintf("invalid address %s: %s", address, err.Error()))
}

func ErrInvalidMembership(reason string) ErrorI {
	return NewError(CodeInvalidMembership, MainModule, fmt.Sprintf("invalid membership: %s", reason))
}

func ErrInvalidProcessID(id ProcessID) ErrorI {
	return NewError(CodeInvalidProcessID, MainModule, fmt.Sprintf("invalid process id: %d", id))
}

func ErrInvalidEventLog(line int, text string) ErrorI {
	return NewError(CodeInvalidEventLog, MainModule, fmt.Sprintf("invalid event log line %d: %q", line, text))
}

func ErrShortFrame(length int) ErrorI {
	return NewError(CodeShortFrame, MainModule, fmt.Sprintf("frame too short: %d bytes", length))
}

func ErrUnknownFrameKind(kind byte) ErrorI {
	return NewError(CodeUnknownFrameKind, MainModule, fmt.Sprintf("unknown frame kind: %d", kind))
}

func ErrFrameTooLarge(length, max int) ErrorI {
	return NewError(CodeFrameTooLarge, MainModule, fmt.Sprintf("frame of %d bytes exceeds max %d", length, max))
}

func ErrFIFOPayloadLength(length int) ErrorI {
	return NewError(CodeFIFOPayloadLength, MainModule, fmt.Sprintf("fifo payload must be %d bytes, got %d", fifoPayloadSize, length))
}

func ErrVectorLength(expected, got int) ErrorI {
	return NewError(CodeVectorLength, MainModule, fmt.Sprintf("vector clock payload must be %d bytes, got %d", expected, got))
}

func ErrNilMessage() ErrorI {
	return NewError(CodeNilMessage, MainModule, "nil message")
}
