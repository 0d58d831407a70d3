package admin

import (
	"net/http"

	"github.com/KOMKZ/habitcache/errcode"
)

const ModuleCode = 72

var (
	ErrBadRequest = errcode.Register(errcode.New(
		ModuleCode, 1, "admin", "error.admin.bad_request", "bad request", http.StatusBadRequest,
	))
	ErrEntryNotFound = errcode.Register(errcode.New(
		ModuleCode, 2, "admin", "error.admin.entry_not_found", "entry not found", http.StatusNotFound,
	))
	ErrConfigInvalid = errcode.Register(errcode.New(
		ModuleCode, 3, "admin", "error.admin.config_invalid", "invalid admin configuration",
	))
	ErrDocsUnavailable = errcode.Register(errcode.New(
		ModuleCode, 4, "admin", "error.admin.docs_unavailable", "api docs unavailable", http.StatusInternalServerError,
	))
)
