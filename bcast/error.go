package bcast

import (
	"fmt"

	"github.com/canopy-network/layercast/lib"
)

func ErrNilDeliver() lib.ErrorI {
	return lib.NewError(lib.CodeNilDeliver, lib.BroadcastModule, "deliver callback is nil")
}

func ErrWrongOrigin(expected, got lib.ProcessID) lib.ErrorI {
	return lib.NewError(lib.CodeWrongOrigin, lib.BroadcastModule, fmt.Sprintf("expected origin %d, got %d", expected, got))
}

func ErrFIFOViolation(process, origin lib.ProcessID, expected, got int32) lib.ErrorI {
	return lib.NewError(lib.CodeFIFOViolation, lib.BroadcastModule,
		fmt.Sprintf("process %d delivered seq %d of %d, expected %d", process, got, origin, expected))
}

func ErrCausalViolation(process, origin lib.ProcessID, seq int32, missingOrigin lib.ProcessID, missingSeq int32) lib.ErrorI {
	return lib.NewError(lib.CodeCausalViolation, lib.BroadcastModule,
		fmt.Sprintf("process %d delivered (%d, %d) before its dependency (%d, %d)", process, origin, seq, missingOrigin, missingSeq))
}

func ErrUnknownBroadcast(process, origin lib.ProcessID, seq int32) lib.ErrorI {
	return lib.NewError(lib.CodeUnknownBroadcast, lib.BroadcastModule,
		fmt.Sprintf("process %d delivered (%d, %d) which was never broadcast", process, origin, seq))
}

func ErrUnknownLayer(layer string) lib.ErrorI {
	return lib.NewError(lib.CodeUnknownLayer, lib.BroadcastModule, fmt.Sprintf("unknown broadcast layer %q", layer))
}

func ErrDuplicateDelivery(process, origin lib.ProcessID, seq int32) lib.ErrorI {
	return lib.NewError(lib.CodeDuplicateDelivery, lib.BroadcastModule,
		fmt.Sprintf("process %d delivered (%d, %d) more than once", process, origin, seq))
}
