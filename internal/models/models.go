package models

import (
	"fmt"
	"strconv"
	"time"
)

// ServerType identifies the platform a game server is installed from.
type ServerType string

const (
	ServerTypeSteam ServerType = "STEAM"
)

// Worker is one row per worker process lifetime. At most one worker has a
// null EndedAt at any time; creating a new worker closes all others.
type Worker struct {
	WorkerID      int64      `json:"worker_id"`
	CreatedAt     time.Time  `json:"created_at"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
	LastHeartbeat *time.Time `json:"last_heartbeat,omitempty"`
}

// GameServer is a static catalog entry. Unique on (name, server_type) and
// (app_id, server_type).
type GameServer struct {
	GameServerID int64      `json:"game_server_id"`
	Name         string     `json:"name"`
	ServerType   ServerType `json:"server_type"`
	AppID        int64      `json:"app_id"`
}

// GameServerConfig is a named launch configuration for a GameServer.
// At most one config per game server has IsDefault set.
type GameServerConfig struct {
	GameServerConfigID int64    `json:"game_server_config_id"`
	GameServerID       int64    `json:"game_server_id"`
	Name               string   `json:"name"`
	IsDefault          bool     `json:"is_default"`
	IsVisible          bool     `json:"is_visible"`
	Executable         string   `json:"executable"`
	Args               []string `json:"args"`
	EnvVar             []string `json:"env_var"`
}

// GameServerInstance is one row per server supervision lifetime.
type GameServerInstance struct {
	GameServerInstanceID int64      `json:"game_server_instance_id"`
	GameServerConfigID   int64      `json:"game_server_config_id"`
	WorkerID             int64      `json:"worker_id"`
	CreatedAt            time.Time  `json:"created_at"`
	EndedAt              *time.Time `json:"ended_at,omitempty"`
	LastHeartbeat        *time.Time `json:"last_heartbeat,omitempty"`
}

// CommandType enumerates the operator commands routed through the fabric.
type CommandType string

const (
	CommandStart CommandType = "START"
	CommandStdin CommandType = "STDIN"
	CommandStop  CommandType = "STOP"
)

// Command is an in-flight control message.
//
// Conventions:
//
//	START [config_id]            create a server for this config
//	STOP  []                     shut the addressed worker down (cascade)
//	STOP  [config_id]            stop the server running that config
//	STDIN [config_id, line, ...] write lines to that server's stdin
type Command struct {
	CommandType CommandType `json:"command_type"`
	CommandArgs []string    `json:"command_args"`
}

// EntityType identifies the subject of a status message.
type EntityType string

const (
	EntityWorker             EntityType = "WORKER"
	EntityGameServerInstance EntityType = "GAME_SERVER_INSTANCE"
)

// StatusType enumerates lifecycle states reported over the fabric.
type StatusType string

const (
	StatusCreated      StatusType = "CREATED"
	StatusInitializing StatusType = "INITIALIZING"
	StatusRunning      StatusType = "RUNNING"
	StatusLost         StatusType = "LOST"
	StatusComplete     StatusType = "COMPLETE"
	StatusCrashed      StatusType = "CRASHED"
)

// ActiveStatusTypes are states in which a subject is expected to heartbeat.
var ActiveStatusTypes = map[StatusType]bool{
	StatusCreated:      true,
	StatusInitializing: true,
	StatusRunning:      true,
}

// ObservedStatusTypes cannot be produced by a running subject; only an
// observer (the status processor) may synthesize them.
var ObservedStatusTypes = map[StatusType]bool{
	StatusLost:    true,
	StatusCrashed: true,
}

// InternalStatusInfo is the in-flight status message. The entity type plus
// identifier uniquely locate the subject.
type InternalStatusInfo struct {
	EntityType EntityType `json:"entity_type"`
	Identifier string     `json:"identifier"`
	AsOf       time.Time  `json:"as_of"`
	StatusType StatusType `json:"status_type"`
}

// NewInternalStatusInfo stamps a status message with the current UTC time.
func NewInternalStatusInfo(entity EntityType, identifier string, status StatusType) InternalStatusInfo {
	return InternalStatusInfo{
		EntityType: entity,
		Identifier: identifier,
		AsOf:       time.Now().UTC(),
		StatusType: status,
	}
}

// ExternalStatusInfo is the persisted status event. Exactly one of WorkerID
// or GameServerInstanceID is set; the database enforces this with a CHECK
// constraint.
type ExternalStatusInfo struct {
	StatusInfoID         int64      `json:"status_info_id"`
	ClassName            string     `json:"class_name"`
	StatusType           StatusType `json:"status_type"`
	AsOf                 time.Time  `json:"as_of"`
	WorkerID             *int64     `json:"worker_id,omitempty"`
	GameServerInstanceID *int64     `json:"game_server_instance_id,omitempty"`
}

// ExternalFromInternal converts an in-flight status message to its persisted
// form, parsing the identifier as the subject's integer id.
func ExternalFromInternal(internal InternalStatusInfo) (ExternalStatusInfo, error) {
	id, err := strconv.ParseInt(internal.Identifier, 10, 64)
	if err != nil {
		return ExternalStatusInfo{}, fmt.Errorf("parse status identifier %q: %w", internal.Identifier, err)
	}

	external := ExternalStatusInfo{
		ClassName:  string(internal.EntityType),
		StatusType: internal.StatusType,
		AsOf:       internal.AsOf,
	}
	switch internal.EntityType {
	case EntityWorker:
		external.WorkerID = &id
	case EntityGameServerInstance:
		external.GameServerInstanceID = &id
	default:
		return ExternalStatusInfo{}, fmt.Errorf("unknown entity type %q", internal.EntityType)
	}
	return external, nil
}

// LogMessage is an informational log event re-emitted by the log subscriber
// under the originating entity's identity.
type LogMessage struct {
	EntityType EntityType `json:"entity_type"`
	Identifier string     `json:"identifier"`
	Level      string     `json:"level"`
	Source     string     `json:"source"`
	Message    string     `json:"message"`
	Timestamp  time.Time  `json:"timestamp"`
}
