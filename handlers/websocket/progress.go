// Package websocket pushes job progress and live previews to socket.io
// clients.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/zishang520/engine.io/v2/types"
	socketio "github.com/zishang520/socket.io/v2/socket"

	"invitecanvas/assets"
	"invitecanvas/core"
	"invitecanvas/editor"
	"invitecanvas/export"
	"invitecanvas/handlers/auth"
	"invitecanvas/preview"
)

type ackInvoker func(err error, payload map[string]any)

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// GuestLister lists the recipients of a template.
type GuestLister interface {
	ListGuests(ctx context.Context, templateID string) ([]core.Guest, error)
}

// Hub is a socket.io server that relays export.Jobs events to the room of
// each job and runs one preview controller per connection.
type Hub struct {
	srv        *socketio.Server
	jobs       *export.Jobs
	sessions   *editor.Registry
	guests     GuestLister
	newPreview func() *preview.Controller

	mu       sync.Mutex
	previews map[socketio.SocketId]*preview.Controller
}

// JobRoom is the room a job's events are emitted to.
func JobRoom(jobID string) socketio.Room {
	return socketio.Room("job:" + jobID)
}

// NewHub creates the server and subscribes it to jobs.
func NewHub(jobs *export.Jobs, sessions *editor.Registry, guests GuestLister, newPreview func() *preview.Controller) *Hub {
	opts := socketio.DefaultServerOptions()
	opts.SetMaxHttpBufferSize(5000000)
	opts.SetPath("/socket.io")
	opts.SetAllowEIO3(true)
	opts.SetCors(&types.Cors{
		Origin:      "*",
		Credentials: true,
	})

	h := &Hub{
		srv:        socketio.NewServer(nil, opts),
		jobs:       jobs,
		sessions:   sessions,
		guests:     guests,
		newPreview: newPreview,
		previews:   make(map[socketio.SocketId]*preview.Controller),
	}
	h.srv.On("connection", func(clients ...any) {
		socket, ok := clients[0].(*socketio.Socket)
		if !ok {
			return
		}
		h.connect(socket)
	})
	jobs.Subscribe(h)
	return h
}

// Server is the socket.io server to mount on the router.
func (h *Hub) Server() *socketio.Server { return h.srv }

// JobProgress implements export.Listener.
func (h *Hub) JobProgress(status export.Status) {
	_ = h.srv.To(JobRoom(status.ID)).Emit("export-progress", status)
}

// JobDone implements export.Listener.
func (h *Hub) JobDone(status export.Status) {
	_ = h.srv.To(JobRoom(status.ID)).Emit("export-done", status)
}

// Close stops every preview and the server.
func (h *Hub) Close() {
	h.mu.Lock()
	previews := h.previews
	h.previews = make(map[socketio.SocketId]*preview.Controller)
	h.mu.Unlock()
	for _, c := range previews {
		c.Close()
	}
	h.srv.Close(nil)
}

//nolint:errcheck // Socket.IO event handlers do not return useful errors
func (h *Hub) connect(socket *socketio.Socket) {
	me := socket.Id()
	log := logrus.WithField("socket", me)
	log.Debug("Socket connected")

	socket.On("join-job", func(datas ...any) {
		h.joinJob(socket, datas)
	})

	socket.On("preview-open", func(datas ...any) {
		h.openPreview(socket, datas)
	})
	socket.On("preview-next", func(datas ...any) {
		ack, _ := extractAck(datas)
		reply(socket, ack, h.steer(me, (*preview.Controller).Next))
	})
	socket.On("preview-prev", func(datas ...any) {
		ack, _ := extractAck(datas)
		reply(socket, ack, h.steer(me, (*preview.Controller).Prev))
	})
	socket.On("preview-select", func(datas ...any) {
		ack, args := extractAck(datas)
		index, ok := intArg(args, 0)
		if !ok {
			reply(socket, ack, errors.New("guest index is required"))
			return
		}
		reply(socket, ack, h.steer(me, func(c *preview.Controller) error { return c.Select(index) }))
	})
	socket.On("preview-close", func(datas ...any) {
		ack, _ := extractAck(datas)
		h.closePreview(me)
		reply(socket, ack, nil)
	})

	socket.On("disconnect", func(datas ...any) {
		h.closePreview(me)
		socket.RemoveAllListeners("")
		log.Debug("Socket disconnected")
	})
}

// joinJob expects (jobID, token) and puts the socket in the job's room. The
// ack carries the current status so a late joiner does not miss progress.
func (h *Hub) joinJob(socket *socketio.Socket, datas []any) {
	ack, args := extractAck(datas)
	jobID, _ := stringArg(args, 0)
	token, _ := stringArg(args, 1)
	if jobID == "" {
		err := errors.New("job id is required")
		respondWithAck(socket, ack, "join-job-ack", errorPayload(err), err)
		return
	}

	claims, err := auth.ParseJWT(token)
	if err != nil {
		err = fmt.Errorf("invalid token: %w", err)
		respondWithAck(socket, ack, "join-job-ack", errorPayload(err), err)
		return
	}
	job, ok := h.jobs.Get(jobID)
	if !ok || job.Owner() != claims.Subject {
		err := fmt.Errorf("job %s not found", jobID)
		respondWithAck(socket, ack, "join-job-ack", errorPayload(err), err)
		return
	}

	socket.Join(JobRoom(jobID))
	logrus.WithFields(logrus.Fields{"socket": socket.Id(), "job_id": jobID}).Debug("Socket joined job")
	respondWithAck(socket, ack, "join-job-ack", map[string]any{
		"status": "ok",
		"job":    job.Status(),
	}, nil)
}

// openPreview expects (templateID, token[, startIndex]). Frames are emitted
// as preview-frame, render failures as preview-error.
func (h *Hub) openPreview(socket *socketio.Socket, datas []any) {
	ack, args := extractAck(datas)
	templateID, _ := stringArg(args, 0)
	token, _ := stringArg(args, 1)
	start, _ := intArg(args, 2)

	claims, err := auth.ParseJWT(token)
	if err != nil {
		reply(socket, ack, fmt.Errorf("invalid token: %w", err))
		return
	}
	ctx := context.Background()
	session, err := h.sessions.Open(ctx, claims.Subject, templateID)
	if err != nil {
		reply(socket, ack, err)
		return
	}
	list, err := h.guests.ListGuests(ctx, templateID)
	if err != nil {
		reply(socket, ack, err)
		return
	}

	c := h.controller(socket.Id())
	c.OnReady(func(frame *preview.Frame, err error) {
		if err != nil {
			_ = socket.Emit("preview-error", errorPayload(err))
			return
		}
		_ = socket.Emit("preview-frame", framePayload(frame))
	})
	reply(socket, ack, c.Open(ctx, session.Snapshot(), list, start))
}

func (h *Hub) steer(id socketio.SocketId, move func(*preview.Controller) error) error {
	h.mu.Lock()
	c, ok := h.previews[id]
	h.mu.Unlock()
	if !ok {
		return preview.ErrClosed
	}
	return move(c)
}

func (h *Hub) controller(id socketio.SocketId) *preview.Controller {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.previews[id]
	if !ok {
		c = h.newPreview()
		h.previews[id] = c
	}
	return c
}

func (h *Hub) closePreview(id socketio.SocketId) {
	h.mu.Lock()
	c, ok := h.previews[id]
	delete(h.previews, id)
	h.mu.Unlock()
	if ok {
		c.Close()
	}
}

func framePayload(f *preview.Frame) map[string]any {
	return map[string]any{
		"generation":    f.Generation,
		"index":         f.Index,
		"guest":         f.Guest,
		"image":         assets.DataURL(f.PNG),
		"payloads":      f.Payloads,
		"assetFailures": f.AssetFailures,
	}
}

// reply acknowledges a preview command.
func reply(socket *socketio.Socket, ack ackInvoker, err error) {
	if err != nil {
		respondWithAck(socket, ack, "", errorPayload(err), err)
		return
	}
	respondWithAck(socket, ack, "", map[string]any{"status": "ok"}, nil)
}

func errorPayload(err error) map[string]any {
	return map[string]any{"status": "error", "error": err.Error()}
}

func stringArg(args []any, i int) (string, bool) {
	if i >= len(args) {
		return "", false
	}
	s, ok := args[i].(string)
	return s, ok
}

// intArg accepts the float64 JSON numbers decode to.
func intArg(args []any, i int) (int, bool) {
	if i >= len(args) {
		return 0, false
	}
	switch v := args[i].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	case int64:
		return int(v), true
	default:
		return 0, false
	}
}

// extractAck splits a trailing acknowledgement callback off the event args.
func extractAck(datas []any) (ack ackInvoker, args []any) {
	if len(datas) == 0 {
		return nil, datas
	}
	ack = wrapAck(datas[len(datas)-1])
	if ack == nil {
		return nil, datas
	}
	return ack, datas[:len(datas)-1]
}

func wrapAck(candidate any) ackInvoker {
	if candidate == nil {
		return nil
	}
	value := reflect.ValueOf(candidate)
	if value.Kind() != reflect.Func {
		return nil
	}

	typ := value.Type()
	return func(err error, payload map[string]any) {
		args := make([]reflect.Value, typ.NumIn())
		sent := false
		for i := range args {
			in := typ.In(i)
			switch {
			case in == errorType && (err != nil || typ.NumIn() > 1):
				args[i] = coerceValue(err, in)
			case !sent:
				args[i] = coerceValue(payload, in)
				sent = true
			default:
				args[i] = reflect.Zero(in)
			}
		}
		value.Call(args)
	}
}

func coerceValue(value any, target reflect.Type) reflect.Value {
	if value == nil {
		return reflect.Zero(target)
	}
	rv := reflect.ValueOf(value)
	switch {
	case rv.Type().AssignableTo(target):
		return rv
	case rv.Type().ConvertibleTo(target):
		return rv.Convert(target)
	case target.Kind() == reflect.Slice && target.Elem().Kind() == reflect.Interface:
		// socket.io acks are commonly func([]any, error).
		return reflect.ValueOf([]any{value}).Convert(target)
	case target.Kind() == reflect.String:
		return reflect.ValueOf(fmt.Sprint(value)).Convert(target)
	}
	return reflect.Zero(target)
}

func respondWithAck(socket *socketio.Socket, ack ackInvoker, event string, payload map[string]any, ackErr error) {
	if ack != nil {
		ack(ackErr, payload)
	}
	if event != "" && payload != nil {
		_ = socket.Emit(event, payload)
	}
}
