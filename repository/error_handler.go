package repository

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-kit/log/level"
	"github.com/go-resty/resty/v2"
	"github.com/sourcedrop/sourcedrop-server/global"
	"github.com/sourcedrop/sourcedrop-server/types"
)

func handleError(reqErr *resty.Response) error {
	if reqErr.StatusCode() == http.StatusNotFound {
		return types.ErrNotFound
	}
	if reqErr.StatusCode() == http.StatusConflict {
		return types.ErrConflict
	}
	if reqErr.IsError() {
		var mytest map[string]interface{}
		uErr := json.Unmarshal(reqErr.Body(), &mytest)
		if uErr != nil {
			level.Error(global.Logger).Log("msg", "failed to unmarshal couchdb response", "err", uErr)
			return errors.Join(types.ErrStorageUnavailable, uErr)
		}
		if errDesc, ok := mytest["error"].(string); ok {
			return errors.Join(types.ErrStorageUnavailable, errors.New(errDesc))
		}
		return types.ErrStorageUnavailable
	}
	return nil
}
