package controller

import (
	"github.com/watchroom/server/pkg/wsrouter"
)

func (c *controller) getWSRouter() *wsrouter.WSRouter {
	mux := wsrouter.New()

	mux.Use(c.wsRequestIdMw())
	mux.Use(c.loggerWSMw())

	wsrouter.Handle(mux, "ALIVE", c.handleAlive)
	wsrouter.Handle(mux, "CONTROL_ACTION", c.handleControlAction)
	wsrouter.Handle(mux, "REQUEST_STATE", c.handleRequestState)
	wsrouter.Handle(mux, "END_ROOM", c.handleEndRoom)

	return mux
}
