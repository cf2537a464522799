package world

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"veldt/internal/ai"
	"veldt/internal/applog"
	"veldt/internal/blueprint"
	"veldt/internal/deploylock"
)

const (
	worldWSWriteWait = 10 * time.Second
	worldWSPongWait  = 60 * time.Second
	worldWSPingEvery = (worldWSPongWait * 9) / 10
)

var worldWSUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// Hub fans world packets out to every connected client and serves the
// request/response packet types.
type Hub struct {
	blueprints *blueprint.Store
	entities   *Entities
	locks      *deploylock.Manager
	runner     *ai.Runner
	serverLogs *applog.Buffer
	scripts    *Scripts
	adminCode  string

	mu      sync.Mutex
	clients map[*client]bool
}

// HubOptions wires the hub's collaborators. Runner may be nil when no AI
// provider is configured; Scripts may be nil when no server-side runtime is
// attached; AdminCode "" disables the admin gate.
type HubOptions struct {
	Blueprints *blueprint.Store
	Entities   *Entities
	Locks      *deploylock.Manager
	Runner     *ai.Runner
	ServerLogs *applog.Buffer
	Scripts    *Scripts
	AdminCode  string
}

func NewHub(opts HubOptions) *Hub {
	return &Hub{
		blueprints: opts.Blueprints,
		entities:   opts.Entities,
		locks:      opts.Locks,
		runner:     opts.Runner,
		serverLogs: opts.ServerLogs,
		scripts:    opts.Scripts,
		adminCode:  opts.AdminCode,
		clients:    map[*client]bool{},
	}
}

type client struct {
	send  chan Packet
	admin bool
}

// Broadcast queues a packet on every connected client. Slow clients drop
// their oldest queued packet rather than stalling the hub.
func (h *Hub) Broadcast(p Packet) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		pushWorldWS(c.send, p)
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

// HandleWorldWS serves one world channel connection.
func (h *Hub) HandleWorldWS(w http.ResponseWriter, r *http.Request) {
	conn, err := worldWSUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := &client{
		send:  make(chan Packet, 32),
		admin: h.adminCode == "" || r.URL.Query().Get("admin") == h.adminCode,
	}
	h.register(c)
	defer h.unregister(c)

	if err := conn.SetReadDeadline(time.Now().Add(worldWSPongWait)); err != nil {
		log.Printf("world ws set read deadline failed: %v", err)
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(worldWSPongWait))
	})

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		ticker := time.NewTicker(worldWSPingEvery)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case out := <-c.send:
				if err := conn.SetWriteDeadline(time.Now().Add(worldWSWriteWait)); err != nil {
					return
				}
				if err := conn.WriteJSON(out); err != nil {
					return
				}
			case <-ticker.C:
				if err := conn.SetWriteDeadline(time.Now().Add(worldWSWriteWait)); err != nil {
					return
				}
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	pushWorldWS(c.send, h.snapshotPacket())

	for {
		var in Packet
		if err := conn.ReadJSON(&in); err != nil {
			cancel()
			<-writerDone
			return
		}
		h.dispatch(ctx, c, in)
	}
}

func (h *Hub) snapshotPacket() Packet {
	payload := struct {
		Blueprints []*blueprint.Blueprint `json:"blueprints"`
		Entities   []*Entity              `json:"entities"`
	}{
		Blueprints: h.blueprints.List(),
		Entities:   h.entities.List(),
	}
	return NewPacket(PacketSnapshot, payload)
}

func (h *Hub) dispatch(ctx context.Context, c *client, in Packet) {
	typ := strings.TrimSpace(in.Type)
	switch typ {
	case PacketPing:
		pushWorldWS(c.send, Packet{Type: PacketPong})

	case PacketScriptAiRequest:
		h.handleAiRequest(ctx, c, in.Data)

	case PacketDeployLockAcquire:
		h.handleLockAcquire(c, in.Data)

	case PacketDeployLockRelease:
		var req deployLockRequest
		if err := json.Unmarshal(in.Data, &req); err != nil {
			pushWorldWS(c.send, errorPacket("invalid_argument", err.Error()))
			return
		}
		h.locks.Release(req.Scope, req.Token)

	case PacketBlueprintAdd, PacketBlueprintModify, PacketBlueprintRemove,
		PacketEntityAdd, PacketEntityRemove:
		if !c.admin {
			pushWorldWS(c.send, errorPacket("admin_required", "admin code required for "+typ))
			return
		}
		h.handleMutation(c, typ, in.Data)

	case PacketAppLogs:
		var req appLogsRequest
		if err := json.Unmarshal(in.Data, &req); err != nil {
			pushWorldWS(c.send, errorPacket("invalid_argument", err.Error()))
			return
		}
		entries := h.serverLogs.Entries(req.AppID, req.Limit)
		pushWorldWS(c.send, NewPacket(PacketAppLogsResult, struct {
			AppID   string         `json:"appId"`
			Entries []applog.Entry `json:"entries"`
		}{AppID: req.AppID, Entries: entries}))

	default:
		pushWorldWS(c.send, errorPacket("invalid_argument", "unsupported type: "+typ))
	}
}

func (h *Hub) handleAiRequest(ctx context.Context, c *client, data []byte) {
	req, err := ai.DecodeRequest(data)
	if err != nil {
		pushWorldWS(c.send, errorPacket("invalid_argument", err.Error()))
		return
	}
	if h.runner == nil {
		pushWorldWS(c.send, NewPacket(PacketScriptAiProposal, &ai.ProposalMessage{
			RequestID:    req.RequestID,
			ScriptRootID: req.Target.ScriptRootID,
			Error:        "ai_unavailable",
			Message:      "no AI provider configured",
		}))
		return
	}
	// generation is slow; keep the read loop responsive
	go func() {
		msg := h.runner.Handle(ctx, req)
		pushWorldWS(c.send, NewPacket(PacketScriptAiProposal, msg))
	}()
}

func (h *Hub) handleLockAcquire(c *client, data []byte) {
	var req deployLockRequest
	if err := json.Unmarshal(data, &req); err != nil {
		pushWorldWS(c.send, errorPacket("invalid_argument", err.Error()))
		return
	}
	token, err := h.locks.Acquire(req.Scope, req.Holder)
	result := deployLockResult{Scope: req.Scope, Token: token}
	if err != nil {
		var locked *deploylock.ErrLocked
		if errors.As(err, &locked) {
			result.Error = "locked"
			result.Holder = locked.Holder
		} else {
			result.Error = err.Error()
		}
	}
	pushWorldWS(c.send, NewPacket(PacketDeployLockResult, result))
}

func (h *Hub) handleMutation(c *client, typ string, data []byte) {
	switch typ {
	case PacketBlueprintAdd:
		var bp blueprint.Blueprint
		if err := json.Unmarshal(data, &bp); err != nil {
			pushWorldWS(c.send, errorPacket("invalid_argument", err.Error()))
			return
		}
		if err := h.blueprints.Add(&bp); err != nil {
			pushWorldWS(c.send, errorPacket("blueprint_add_failed", err.Error()))
			return
		}
		h.Broadcast(NewPacket(PacketBlueprintAdded, h.blueprints.Lookup(bp.ID)))

	case PacketBlueprintModify:
		var patch struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(data, &patch); err != nil || patch.ID == "" {
			pushWorldWS(c.send, errorPacket("invalid_argument", "blueprint id is required"))
			return
		}
		modified, err := h.blueprints.Modify(patch.ID, func(b *blueprint.Blueprint) {
			// merge the patch over the current record; version is bumped
			// by the store afterwards
			id, version := b.ID, b.Version
			if err := json.Unmarshal(data, b); err != nil {
				return
			}
			b.ID, b.Version = id, version
		})
		if err != nil {
			pushWorldWS(c.send, errorPacket("blueprint_modify_failed", err.Error()))
			return
		}
		h.Broadcast(NewPacket(PacketBlueprintModified, modified))
		if h.scripts != nil {
			// version bump invalidated the old module graph; re-run live
			// entities against the new one
			if err := h.scripts.Reload(context.Background(), modified.ID); err != nil {
				log.Printf("blueprint %s reload after modify: %v", modified.ID, err)
			}
		}

	case PacketBlueprintRemove:
		var req blueprintRemoveRequest
		if err := json.Unmarshal(data, &req); err != nil || req.ID == "" {
			pushWorldWS(c.send, errorPacket("invalid_argument", "blueprint id is required"))
			return
		}
		if err := h.blueprints.Remove(req.ID); err != nil {
			pushWorldWS(c.send, errorPacket("blueprint_remove_failed", err.Error()))
			return
		}
		h.Broadcast(NewPacket(PacketBlueprintRemoved, req))

	case PacketEntityAdd:
		var ent Entity
		if err := json.Unmarshal(data, &ent); err != nil {
			pushWorldWS(c.send, errorPacket("invalid_argument", err.Error()))
			return
		}
		added, err := h.entities.Add(&ent)
		if err != nil {
			pushWorldWS(c.send, errorPacket("entity_add_failed", err.Error()))
			return
		}
		h.Broadcast(NewPacket(PacketEntityAdded, added))
		if h.scripts != nil {
			if err := h.scripts.Spawn(context.Background(), added); err != nil {
				log.Printf("entity %s spawn: %v", added.ID, err)
			}
		}

	case PacketEntityRemove:
		var req entityRemoveRequest
		if err := json.Unmarshal(data, &req); err != nil || req.ID == "" {
			pushWorldWS(c.send, errorPacket("invalid_argument", "entity id is required"))
			return
		}
		h.entities.Remove(req.ID)
		if h.scripts != nil {
			h.scripts.Despawn(req.ID)
		}
		h.Broadcast(NewPacket(PacketEntityRemoved, req))
	}
}

// pushWorldWS queues a packet without blocking; a full queue drops its
// oldest packet to make room.
func pushWorldWS(send chan Packet, p Packet) {
	if send == nil {
		return
	}
	select {
	case send <- p:
		return
	default:
	}
	select {
	case <-send:
	default:
	}
	select {
	case send <- p:
	default:
	}
}
