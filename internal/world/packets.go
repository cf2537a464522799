package world

import "encoding/json"

// Packet is the world channel envelope. Data holds the type-specific
// payload.
type Packet struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Packet types on the world channel.
const (
	PacketPing     = "ping"
	PacketPong     = "pong"
	PacketError    = "error"
	PacketSnapshot = "snapshot"

	PacketScriptAiRequest  = "scriptAiRequest"
	PacketScriptAiProposal = "scriptAiProposal"

	PacketBlueprintAdd      = "blueprintAdd"
	PacketBlueprintAdded    = "blueprintAdded"
	PacketBlueprintModify   = "blueprintModify"
	PacketBlueprintModified = "blueprintModified"
	PacketBlueprintRemove   = "blueprintRemove"
	PacketBlueprintRemoved  = "blueprintRemoved"

	PacketEntityAdd     = "entityAdd"
	PacketEntityAdded   = "entityAdded"
	PacketEntityRemove  = "entityRemove"
	PacketEntityRemoved = "entityRemoved"

	PacketDeployLockAcquire = "deployLockAcquire"
	PacketDeployLockRelease = "deployLockRelease"
	PacketDeployLockResult  = "deployLockResult"

	PacketAppLogs       = "appLogs"
	PacketAppLogsResult = "appLogsResult"
)

// NewPacket marshals a payload into an envelope. Marshal failures yield an
// error packet instead, so the channel never goes silent.
func NewPacket(typ string, payload any) Packet {
	if payload == nil {
		return Packet{Type: typ}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return errorPacket("internal", "encode "+typ+": "+err.Error())
	}
	return Packet{Type: typ, Data: data}
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func errorPacket(code, message string) Packet {
	data, _ := json.Marshal(errorPayload{Code: code, Message: message})
	return Packet{Type: PacketError, Data: data}
}

type deployLockRequest struct {
	Scope  string `json:"scope"`
	Holder string `json:"holder,omitempty"`
	Token  string `json:"token,omitempty"`
}

type deployLockResult struct {
	Scope  string `json:"scope"`
	Token  string `json:"token,omitempty"`
	Error  string `json:"error,omitempty"`
	Holder string `json:"holder,omitempty"`
}

type appLogsRequest struct {
	AppID string `json:"appId"`
	Limit int    `json:"limit,omitempty"`
}

type entityRemoveRequest struct {
	ID string `json:"id"`
}

type blueprintRemoveRequest struct {
	ID string `json:"id"`
}
