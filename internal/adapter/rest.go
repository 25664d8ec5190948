package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"net/http"
	"strconv"
	"time"

	"github.com/tildaslashalef/shopsync/internal/loggy"
	"github.com/tildaslashalef/shopsync/internal/records"
	"github.com/tildaslashalef/shopsync/internal/remote"
	"github.com/tildaslashalef/shopsync/internal/ulid"
)

// Transport is the subset of the remote client a REST adapter needs
type Transport interface {
	Create(ctx context.Context, resource string, data map[string]any) (map[string]any, error)
	Update(ctx context.Context, resource, id string, data map[string]any) error
	Delete(ctx context.Context, resource, id string) error
	List(ctx context.Context, resource string, since *time.Time) ([]map[string]any, error)
}

// Definition describes how one entity type maps onto a REST resource
type Definition struct {
	Type     records.EntityType
	Resource string
	// IDField is the response field holding the server id, "id" when empty
	IDField string
	// References maps payload fields to the entity type whose id they hold
	References map[string]records.EntityType
}

func (d Definition) idField() string {
	if d.IDField == "" {
		return "id"
	}
	return d.IDField
}

// RESTAdapter implements Adapter for any resource following the collection conventions of the API
type RESTAdapter struct {
	def       Definition
	transport Transport
	logger    *loggy.Logger
}

// NewRESTAdapter creates an adapter for one definition
func NewRESTAdapter(def Definition, transport Transport, logger *loggy.Logger) *RESTAdapter {
	return &RESTAdapter{def: def, transport: transport, logger: logger}
}

// NewRESTRegistry registers a REST adapter for every known entity type
func NewRESTRegistry(transport Transport, logger *loggy.Logger) *Registry {
	reg := NewRegistry()
	for _, def := range Definitions() {
		reg.Register(NewRESTAdapter(def, transport, logger))
	}
	return reg
}

// EntityType returns the entity type this adapter serves
func (a *RESTAdapter) EntityType() records.EntityType {
	return a.def.Type
}

// Push sends one mutation to the remote
func (a *RESTAdapter) Push(ctx context.Context, op records.Operation, id string, data map[string]any) (PushResult, error) {
	payload := records.StripLocalFlags(data)
	delete(payload, "id")

	if op != records.OpDelete {
		if err := a.checkReferences(payload); err != nil {
			return PushResult{}, err
		}
	}

	switch op {
	case records.OpCreate:
		resp, err := a.transport.Create(ctx, a.def.Resource, payload)
		if err != nil {
			return PushResult{}, fmt.Errorf("creating %s: %w", a.def.Type, err)
		}
		remoteID := idString(resp[a.def.idField()])
		if remoteID == "" {
			return PushResult{}, fmt.Errorf("creating %s: %w", a.def.Type, ErrMissingRemoteID)
		}
		return PushResult{RemoteID: remoteID}, nil

	case records.OpUpdate:
		if err := a.transport.Update(ctx, a.def.Resource, id, payload); err != nil {
			return PushResult{}, fmt.Errorf("updating %s %s: %w", a.def.Type, id, err)
		}
		return PushResult{}, nil

	case records.OpDelete:
		err := a.transport.Delete(ctx, a.def.Resource, id)
		if err != nil && remote.StatusCode(err) == http.StatusNotFound {
			a.logger.Debug("Record already gone remotely", "entity_type", a.def.Type, "record_id", id)
			return PushResult{}, nil
		}
		if err != nil {
			return PushResult{}, fmt.Errorf("deleting %s %s: %w", a.def.Type, id, err)
		}
		return PushResult{}, nil
	}

	return PushResult{}, fmt.Errorf("unsupported operation %q", op)
}

// Pull fetches the remote collection, skipping entries without an id
func (a *RESTAdapter) Pull(ctx context.Context, since *time.Time) ([]RemoteRecord, error) {
	items, err := a.transport.List(ctx, a.def.Resource, since)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", a.def.Resource, err)
	}

	out := make([]RemoteRecord, 0, len(items))
	for _, item := range items {
		id := idString(item[a.def.idField()])
		if id == "" {
			a.logger.Warn("Skipping remote record without id", "entity_type", a.def.Type)
			continue
		}

		data := maps.Clone(item)
		delete(data, a.def.idField())
		delete(data, "id")
		out = append(out, RemoteRecord{ID: id, Data: records.StripLocalFlags(data)})
	}
	return out, nil
}

// checkReferences refuses payloads whose reference fields still hold temporary client ids
func (a *RESTAdapter) checkReferences(payload map[string]any) error {
	for field, target := range a.def.References {
		ref, ok := payload[field].(string)
		if ok && ulid.IsLocalID(ref) {
			return fmt.Errorf("%w: %s.%s points at %s %s", ErrUnresolvedReference, a.def.Type, field, target, ref)
		}
	}
	return nil
}

// idString normalizes ids the remote may encode as strings or numbers
func idString(v any) string {
	switch id := v.(type) {
	case string:
		return id
	case json.Number:
		return id.String()
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	case int:
		return strconv.Itoa(id)
	case int64:
		return strconv.FormatInt(id, 10)
	}
	return ""
}
