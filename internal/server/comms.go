package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/approuter/pkg/apperr"
	"github.com/morezero/approuter/pkg/commsutil"
	"github.com/morezero/approuter/pkg/deadline"
	"github.com/morezero/approuter/pkg/dispatcher"
)

const commsLogPrefix = "server:comms"

// ReloadReply is the response to a reload request on the reload subject.
type ReloadReply struct {
	Ok       bool   `json:"ok"`
	Total    int    `json:"total,omitempty"`
	Revision int64  `json:"revision"`
	Error    string `json:"error,omitempty"`
}

// subscribe serves the registry envelope on the router subject (queue group
// per service name) and listens for reload requests on every instance.
func (s *Server) subscribe(ctx context.Context) error {
	routerSubject := s.cfg.RouterSubject
	if routerSubject == "" {
		routerSubject = commsutil.SubjectRouter
	}
	disp := dispatcher.NewDispatcher(s.registry)

	sub, err := s.nc.QueueSubscribe(routerSubject, s.cfg.COMMSName, func(msg *comms.Msg) {
		s.serveEnvelope(ctx, disp, msg)
	})
	if err != nil {
		return fmt.Errorf("%s - failed to subscribe to %s: %w", commsLogPrefix, routerSubject, err)
	}
	s.subs = append(s.subs, sub)
	slog.Info(fmt.Sprintf("%s - Subscribed to %s", commsLogPrefix, routerSubject))

	reloadSubject := s.cfg.ReloadSubject
	if reloadSubject == "" {
		reloadSubject = commsutil.SubjectReload
	}
	reloadSub, err := s.nc.Subscribe(reloadSubject, func(msg *comms.Msg) {
		s.serveReload(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("%s - failed to subscribe to %s: %w", commsLogPrefix, reloadSubject, err)
	}
	s.subs = append(s.subs, reloadSub)
	slog.Info(fmt.Sprintf("%s - Subscribed to %s", commsLogPrefix, reloadSubject))

	return s.nc.Flush()
}

func (s *Server) serveEnvelope(ctx context.Context, disp *dispatcher.Dispatcher, msg *comms.Msg) {
	var req commsutil.ServiceRequest
	if err := commsutil.DecodePayload(msg.Data, &req); err != nil {
		slog.Error(fmt.Sprintf("%s - failed to decode request: %v", commsLogPrefix, err))
		respond(msg, &commsutil.ServiceResponse{
			Ok: false,
			Error: &commsutil.ErrorDetail{
				Code:    "INVALID_REQUEST",
				Kind:    "validation",
				Message: "Failed to decode request",
			},
		})
		return
	}

	// The caller may shorten the configured budget but not extend it.
	budget := s.cfg.RequestTimeout
	if asked := req.Ctx.Budget(time.Now()); asked > 0 && (budget <= 0 || asked < budget) {
		budget = asked
	}
	reqCtx, cancel := deadline.Compose(ctx, budget)
	defer cancel()

	respond(msg, disp.Dispatch(reqCtx, &req))
}

func (s *Server) serveReload(ctx context.Context, msg *comms.Msg) {
	slog.Info(fmt.Sprintf("%s - Reload requested on %s", commsLogPrefix, msg.Subject))

	reply := ReloadReply{Ok: true}
	event, err := s.reloader.Reload(ctx)
	if err != nil {
		reply = ReloadReply{Ok: false, Revision: s.holder.Revision(), Error: apperr.Classify(err).SafeMessage()}
	} else {
		reply.Total = event.Total
		reply.Revision = event.Revision
	}
	if msg.Reply != "" {
		respond(msg, reply)
	}
}

func respond(msg *comms.Msg, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error(fmt.Sprintf("%s - failed to encode response: %v", commsLogPrefix, err))
		return
	}
	if err := msg.Respond(data); err != nil {
		slog.Warn(fmt.Sprintf("%s - failed to respond: %v", commsLogPrefix, err))
	}
}
