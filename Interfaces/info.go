package Interfaces

import (
	"encoding/json"

	"github.com/pkg/errors"

	"arrayrt/RouteTable"
)

// InterfaceInfo is the callback handed to the routing table. ctx must be the
// *Host that created the table.
func InterfaceInfo(ctx RouteTable.Context) ([]byte, error) {
	h, ok := ctx.(*Host)
	if !ok {
		return nil, errors.Errorf("unexpected host context %T", ctx)
	}
	return json.Marshal(h.Interfaces())
}
