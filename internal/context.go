package internal

import (
	"context"

	"github.com/rs/zerolog"
)

type ctx string

var (
	ctxData ctx = "roomlist_data"
)

// logging metadata for a single engine operation or HTTP request
type data struct {
	tag      string
	cause    string
	numRooms int
	resorted bool
}

// prepare a context so it can carry room list operation info
func OperationContext(ctx context.Context) context.Context {
	d := &data{
		numRooms: -1,
	}
	return context.WithValue(ctx, ctxData, d)
}

// record which tag an operation touched. Need to have called OperationContext first.
func SetOperationContextTag(ctx context.Context, tag, cause string) {
	d := ctx.Value(ctxData)
	if d == nil {
		return
	}
	da := d.(*data)
	da.tag = tag
	da.cause = cause
}

func SetOperationContextResult(ctx context.Context, numRooms int, resorted bool) {
	d := ctx.Value(ctxData)
	if d == nil {
		return
	}
	da := d.(*data)
	da.numRooms = numRooms
	da.resorted = resorted
}

func DecorateLogger(ctx context.Context, l *zerolog.Event) *zerolog.Event {
	d := ctx.Value(ctxData)
	if d == nil {
		return l
	}
	da := d.(*data)
	if da.tag != "" {
		l = l.Str("tag", da.tag)
	}
	if da.cause != "" {
		l = l.Str("cause", da.cause)
	}
	if da.numRooms >= 0 {
		l = l.Int("r", da.numRooms)
	}
	if da.resorted {
		l = l.Bool("resort", true)
	}
	return l
}
