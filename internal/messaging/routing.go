package messaging

import (
	"fmt"
	"strings"
)

// Exchange names the topic exchanges used by the fabric. Both are durable.
type Exchange string

const (
	ExchangeInternalServiceEvents Exchange = "internal_service_events"
	ExchangeExternalServiceEvents Exchange = "external_service_events"
)

// Entity is the first routing-key component.
type Entity string

const (
	EntityWorker             Entity = "worker"
	EntityGameServerInstance Entity = "game_server_instance"
)

// MessageType is the third routing-key component.
type MessageType string

const (
	MessageTypeStatus  MessageType = "status"
	MessageTypeCommand MessageType = "command"
	MessageTypeLog     MessageType = "log"
)

type segmentKind int

const (
	segmentConcrete segmentKind = iota
	segmentAny
	segmentAll
)

// Segment is one dot-delimited component of a routing key: a concrete value,
// the single-word wildcard "*", or the multi-word wildcard "#".
type Segment struct {
	kind  segmentKind
	value string
}

// Exact returns a concrete segment.
func Exact(value string) Segment {
	return Segment{kind: segmentConcrete, value: value}
}

// Any matches exactly one word ("*").
var Any = Segment{kind: segmentAny}

// All matches zero or more words ("#").
var All = Segment{kind: segmentAll}

// IsConcrete reports whether the segment is a concrete value rather than a
// wildcard.
func (s Segment) IsConcrete() bool { return s.kind == segmentConcrete }

func (s Segment) String() string {
	switch s.kind {
	case segmentAny:
		return "*"
	case segmentAll:
		return "#"
	default:
		return s.value
	}
}

func parseSegment(raw string) Segment {
	switch raw {
	case "*":
		return Any
	case "#":
		return All
	default:
		return Exact(raw)
	}
}

// RoutingKey is a topic key of the shape entity.identifier.type[.subtype].
// Each component may be concrete or a wildcard.
type RoutingKey struct {
	Entity     Segment
	Identifier Segment
	Type       Segment
	Subtype    *Segment
}

// Build renders the wire form of the key.
func (k RoutingKey) Build() string {
	var b strings.Builder
	b.WriteString(k.Entity.String())
	b.WriteByte('.')
	b.WriteString(k.Identifier.String())
	b.WriteByte('.')
	b.WriteString(k.Type.String())
	if k.Subtype != nil {
		b.WriteByte('.')
		b.WriteString(k.Subtype.String())
	}
	return b.String()
}

func (k RoutingKey) String() string { return k.Build() }

var validEntities = map[string]bool{
	string(EntityWorker):             true,
	string(EntityGameServerInstance): true,
}

var validMessageTypes = map[string]bool{
	string(MessageTypeStatus):  true,
	string(MessageTypeCommand): true,
	string(MessageTypeLog):     true,
}

// ParseRoutingKey parses a wire-form key back into its components. Concrete
// entity and type components must come from the closed registries.
func ParseRoutingKey(raw string) (RoutingKey, error) {
	parts := strings.Split(raw, ".")
	if len(parts) < 3 || len(parts) > 4 {
		return RoutingKey{}, fmt.Errorf("routing key %q must have 3 or 4 components", raw)
	}
	for i, part := range parts {
		if part == "" {
			return RoutingKey{}, fmt.Errorf("routing key %q has an empty component at position %d", raw, i)
		}
	}

	entity := parseSegment(parts[0])
	if entity.IsConcrete() && !validEntities[parts[0]] {
		return RoutingKey{}, fmt.Errorf("routing key %q has unknown entity %q", raw, parts[0])
	}
	msgType := parseSegment(parts[2])
	if msgType.IsConcrete() && !validMessageTypes[parts[2]] {
		return RoutingKey{}, fmt.Errorf("routing key %q has unknown message type %q", raw, parts[2])
	}

	key := RoutingKey{
		Entity:     entity,
		Identifier: parseSegment(parts[1]),
		Type:       msgType,
	}
	if len(parts) == 4 {
		subtype := parseSegment(parts[3])
		key.Subtype = &subtype
	}
	return key, nil
}

// WorkerStatusKey routes status published by a worker.
func WorkerStatusKey(workerID string) RoutingKey {
	return RoutingKey{Entity: Exact(string(EntityWorker)), Identifier: Exact(workerID), Type: Exact(string(MessageTypeStatus))}
}

// WorkerCommandKey routes commands addressed to a worker.
func WorkerCommandKey(workerID string) RoutingKey {
	return RoutingKey{Entity: Exact(string(EntityWorker)), Identifier: Exact(workerID), Type: Exact(string(MessageTypeCommand))}
}

// InstanceStatusKey routes status published by a game server instance.
func InstanceStatusKey(instanceID string) RoutingKey {
	return RoutingKey{Entity: Exact(string(EntityGameServerInstance)), Identifier: Exact(instanceID), Type: Exact(string(MessageTypeStatus))}
}

// InstanceCommandKey routes commands addressed to a game server instance.
func InstanceCommandKey(instanceID string) RoutingKey {
	return RoutingKey{Entity: Exact(string(EntityGameServerInstance)), Identifier: Exact(instanceID), Type: Exact(string(MessageTypeCommand))}
}

// StatusKey routes status published by any entity kind.
func StatusKey(entity Entity, identifier string) RoutingKey {
	return RoutingKey{Entity: Exact(string(entity)), Identifier: Exact(identifier), Type: Exact(string(MessageTypeStatus))}
}

// CommandKey routes commands addressed to any entity kind.
func CommandKey(entity Entity, identifier string) RoutingKey {
	return RoutingKey{Entity: Exact(string(entity)), Identifier: Exact(identifier), Type: Exact(string(MessageTypeCommand))}
}

// AllStatusKey matches status from every entity ("*.*.status").
func AllStatusKey() RoutingKey {
	return RoutingKey{Entity: Any, Identifier: Any, Type: Exact(string(MessageTypeStatus))}
}

// AllLogsKey matches log messages from every entity ("*.*.log").
func AllLogsKey() RoutingKey {
	return RoutingKey{Entity: Any, Identifier: Any, Type: Exact(string(MessageTypeLog))}
}

// Binding pairs an exchange with the routing keys published or consumed on it.
type Binding struct {
	Exchange Exchange
	Keys     []RoutingKey
}

// QueueConfig describes the queue a subscriber declares. A server-named queue
// (empty Name) gets its actual name from the broker reply.
type QueueConfig struct {
	Name       string
	Durable    bool
	Exclusive  bool
	AutoDelete bool
}

// CommandQueueConfig is the durable, non-exclusive queue a service consumes
// its commands from.
func CommandQueueConfig(entity Entity, identifier string) QueueConfig {
	return QueueConfig{
		Name:       fmt.Sprintf("dev-queue-%s-%s", entity, identifier),
		Durable:    true,
		Exclusive:  false,
		AutoDelete: true,
	}
}
