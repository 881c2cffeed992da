package notification

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"godeploy/logging"
	"godeploy/shared/model"
)

// EndMarker is the last log line a viewer receives for a deployment.
const EndMarker = "End"

// TranscriptSource looks up finished deployments for viewers arriving after
// the live channel has closed.
type TranscriptSource interface {
	FindDeployment(ctx context.Context, id string) (*model.Deployment, error)
}

// LogEvent is one websocket frame.
type LogEvent struct {
	Type         string    `json:"type"` // log, end, error
	DeploymentID string    `json:"deploymentId"`
	Log          string    `json:"log,omitempty"`
	Status       string    `json:"status,omitempty"`
	Time         time.Time `json:"time"`
}

type WebSocketHandler struct {
	hub      *Hub
	source   TranscriptSource
	upgrader websocket.Upgrader
	log      *logrus.Entry
}

func NewWebSocketHandler(hub *Hub, source TranscriptSource) *WebSocketHandler {
	return &WebSocketHandler{
		hub:    hub,
		source: source,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		log: logging.C("websocket"),
	}
}

// outbox decouples the publisher from the socket: pushes never block.
type outbox struct {
	mu     sync.Mutex
	lines  []string
	notify chan struct{}
}

func newOutbox() *outbox {
	return &outbox{notify: make(chan struct{}, 1)}
}

func (o *outbox) push(line string) {
	o.mu.Lock()
	o.lines = append(o.lines, line)
	o.mu.Unlock()
	select {
	case o.notify <- struct{}{}:
	default:
	}
}

func (o *outbox) drain() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	lines := o.lines
	o.lines = nil
	return lines
}

func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	deploymentID := r.URL.Query().Get("deploymentId")
	if deploymentID == "" {
		http.Error(w, "deploymentId is required", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warnf("Failed to upgrade connection: %v", err)
		return
	}
	defer conn.Close()

	log := h.log.WithField("deployment_id", deploymentID)
	box := newOutbox()
	sub, err := h.hub.Subscribe(deploymentID, box.push)
	if errors.Is(err, ErrChannelNotFound) {
		h.replayFinished(r.Context(), conn, deploymentID, log)
		return
	}
	if err != nil {
		log.Errorf("❌ Failed to subscribe: %v", err)
		return
	}
	defer sub.Unsubscribe()
	log.Debug("👀 Viewer attached to live logs")

	// The reader notices the viewer going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Debugf("WebSocket error: %v", err)
				}
				return
			}
		}
	}()

	for {
		select {
		case <-box.notify:
			if !h.writeLines(conn, deploymentID, box.drain()) {
				return
			}
		case <-sub.Done():
			if !h.writeLines(conn, deploymentID, box.drain()) {
				return
			}
			h.writeEnd(conn, deploymentID, "")
			return
		case <-gone:
			return
		}
	}
}

func (h *WebSocketHandler) writeLines(conn *websocket.Conn, deploymentID string, lines []string) bool {
	for _, line := range lines {
		err := conn.WriteJSON(LogEvent{Type: "log", DeploymentID: deploymentID, Log: line, Time: time.Now()})
		if err != nil {
			h.log.WithField("deployment_id", deploymentID).Debugf("Failed to send log line: %v", err)
			return false
		}
	}
	return true
}

func (h *WebSocketHandler) writeEnd(conn *websocket.Conn, deploymentID, status string) {
	_ = conn.WriteJSON(LogEvent{Type: "end", DeploymentID: deploymentID, Log: EndMarker, Status: status, Time: time.Now()})
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// replayFinished streams the persisted transcript of a deployment that is not
// being built right now.
func (h *WebSocketHandler) replayFinished(ctx context.Context, conn *websocket.Conn, deploymentID string, log *logrus.Entry) {
	d, err := h.source.FindDeployment(ctx, deploymentID)
	if err != nil {
		log.Debugf("No deployment to replay: %v", err)
		_ = conn.WriteJSON(LogEvent{Type: "error", DeploymentID: deploymentID, Log: err.Error(), Time: time.Now()})
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		return
	}
	lines := d.LogLines()
	if len(lines) == 0 {
		lines = []string{"No logs available"}
	}
	if !h.writeLines(conn, deploymentID, lines) {
		return
	}
	h.writeEnd(conn, deploymentID, string(d.Status))
}
