package gcp

import (
	"errors"
	"net/http"

	"google.golang.org/api/googleapi"

	"cloudfleet/internal/cloud"
)

// classify attaches the error kind derived from the vendor response.
func classify(op, scope string, err error) error {
	kind := cloud.ErrVendorRejected
	var apiErr *googleapi.Error
	var opErr *OperationError
	switch {
	case errors.As(err, &opErr):
		kind = cloud.ErrOperationFailed
	case errors.As(err, &apiErr):
		switch apiErr.Code {
		case http.StatusNotFound:
			kind = cloud.ErrNotFound
		case http.StatusPreconditionFailed:
			kind = cloud.ErrConflict
		}
	}
	return cloud.NewError(cloud.ProviderGCP, op, scope, kind, err)
}

func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound
}
