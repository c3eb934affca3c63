package conn

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"

	"github.com/gorilla/websocket"
)

type Request struct {
	Action RequestAction `json:"action"`
	ReqId  int           `json:"__tdb_client_req_id__"` // used in clients
}

var Upgrader = websocket.Upgrader{
	WriteBufferSize: 1024 * 10,
	ReadBufferSize:  1024 * 10,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// HandleConnection answers requests on ctx until the client goes away.
func (s *Server) HandleConnection(ctx *ConnCtx) {
	defer ctx.Close()
	s.log.Debug("Connection opened", ctx.Id, "from", ctx.conn.RemoteAddr())
	defer s.log.Debug("Connection closed", ctx.Id)

	for {
		buf, err := ctx.Read()
		if err != nil {
			if !isClosed(err) {
				s.log.Error("conn read error", ctx.Id, err)
			}
			return
		}

		var req Request
		if err := json.Unmarshal(buf, &req); err != nil {
			if err := ctx.WriteResponse(NewErrorResponse(http.StatusBadRequest, err.Error())); err != nil {
				return
			}
			continue
		}

		var res Response
		if ctx.Allow() {
			res = ActionHandler(s, req.Action, buf)
		} else {
			res = NewErrorResponse(http.StatusTooManyRequests, "rate limit exceeded")
		}
		res.ReqId = req.ReqId

		if err := ctx.WriteResponse(res); err != nil {
			s.log.Error("writing response", ctx.Id, err)
			return
		}

		if !req.Action.IsReadOnly() && res.Status < 300 {
			s.touch()
		}
	}
}

func (s *Server) HandleWebsocket(w http.ResponseWriter, r *http.Request) {
	c, err := Upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error(err)
		return
	}
	s.HandleConnection(NewConnCtx(wsTransport{c}, s.newLimiter()))
}

func isClosed(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) ||
		websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}
