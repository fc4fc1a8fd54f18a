package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Giuseph66/Avaliacoes-seguras/internal/model"
	"github.com/Giuseph66/Avaliacoes-seguras/internal/response"
	"github.com/Giuseph66/Avaliacoes-seguras/internal/store"
)

// failDomain maps a domain error onto the response taxonomy. Anything
// unrecognized becomes a 500.
func failDomain(c *gin.Context, err error) {
	switch {
	case errors.Is(err, model.ErrNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
	case errors.Is(err, model.ErrPreconditionFailed):
		response.Fail(c, http.StatusUnprocessableEntity, response.ErrPreconditionFailed)
	case errors.Is(err, model.ErrInvalidState):
		response.Fail(c, http.StatusConflict, response.ErrInvalidState)
	case errors.Is(err, model.ErrExpelled):
		response.Fail(c, http.StatusForbidden, response.ErrExpelled)
	case errors.Is(err, model.ErrDecode):
		response.Fail(c, http.StatusUnprocessableEntity, response.ErrDecodeFailed)
	case errors.Is(err, model.ErrExternalService):
		response.Fail(c, http.StatusBadGateway, response.ErrExternalService)
	default:
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}

// decodeRaw re-decodes a websocket message into its full request type.
func decodeRaw(raw []byte, v interface{}) error {
	return json.Unmarshal(raw, v)
}

// decodeDoc unpacks a store change's document.
func decodeDoc(change store.Change, v interface{}) error {
	return store.Decode(change.Doc, v)
}
