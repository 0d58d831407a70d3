package fetch

import (
	"net/http"

	"github.com/KOMKZ/habitcache/errcode"
)

const ModuleCode = 73

var (
	// ErrStatus carries the upstream status under data key "status".
	ErrStatus = errcode.Register(errcode.New(
		ModuleCode, 1, "fetch", "error.fetch.status", "upstream returned an error status", http.StatusBadGateway,
	))
	ErrRequest = errcode.Register(errcode.New(
		ModuleCode, 2, "fetch", "error.fetch.request", "upstream request failed", http.StatusBadGateway,
	))
	ErrDecode = errcode.Register(errcode.New(
		ModuleCode, 3, "fetch", "error.fetch.decode", "upstream body is not valid json", http.StatusBadGateway,
	))
)
