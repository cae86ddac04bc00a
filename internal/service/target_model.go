package service

import (
	"fmt"
	"net/url"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/Harshitk-cp/reconledger/internal/domain"
	"go.uber.org/zap"
)

// TargetModel is the entity/relationship projection of the evidence graph and
// the ledger. It holds nothing that DeriveFromEvidence cannot rebuild.
type TargetModel struct {
	mu       sync.RWMutex
	entities map[string]*domain.Entity
	edges    map[string]*domain.Edge
	logger   *zap.Logger
}

// NewTargetModel returns an empty model; populate it with DeriveFromEvidence.
func NewTargetModel(logger *zap.Logger) *TargetModel {
	return &TargetModel{
		entities: make(map[string]*domain.Entity),
		edges:    make(map[string]*domain.Edge),
		logger:   logger,
	}
}

// Entity id helpers. Ids are prefixed with the entity type.
func HostID(host string) string { return "host:" + host }

// EndpointID is endpoint:METHOD:PATH; an empty method means GET.
func EndpointID(method, path string) string {
	if method == "" {
		method = "GET"
	}
	return "endpoint:" + strings.ToUpper(method) + ":" + path
}

func ServiceID(host, port string) string { return "service:" + host + ":" + port }

func TechnologyID(name string) string { return "technology:" + strings.ToLower(name) }

func ComponentID(name string) string { return "component:" + name }

// projection accumulates entities and edges for one derivation pass.
type projection struct {
	entities map[string]*domain.Entity
	edges    map[string]*domain.Edge
}

func newProjection() *projection {
	return &projection{
		entities: make(map[string]*domain.Entity),
		edges:    make(map[string]*domain.Edge),
	}
}

func (p *projection) entity(id string, t domain.EntityType, attrs map[string]any, claimRef string) {
	e, ok := p.entities[id]
	if !ok {
		e = &domain.Entity{ID: id, EntityType: t, Attributes: make(map[string]any)}
		p.entities[id] = e
	}
	for k, v := range attrs {
		if v == nil || v == "" {
			continue
		}
		e.Attributes[k] = domain.CloneValue(v)
	}
	if claimRef != "" && !slices.Contains(e.ClaimRefs, claimRef) {
		e.ClaimRefs = append(e.ClaimRefs, claimRef)
	}
}

// ensure creates a bare entity if nothing has produced id yet.
func (p *projection) ensure(id string, t domain.EntityType) {
	if _, ok := p.entities[id]; !ok {
		p.entity(id, t, nil, "")
	}
}

func (p *projection) edge(source, target string, rel domain.Relationship, claimRef string) {
	key := source + "|" + string(rel) + "|" + target
	e, ok := p.edges[key]
	if !ok {
		e = &domain.Edge{Source: source, Target: target, Relationship: rel}
		p.edges[key] = e
	}
	if claimRef != "" && !slices.Contains(e.ClaimRefs, claimRef) {
		e.ClaimRefs = append(e.ClaimRefs, claimRef)
	}
}

// DeriveFromEvidence discards the current projection and rebuilds it from
// every event in graph and every claim in ledger that has not been refuted.
// The result depends only on the inputs.
func (m *TargetModel) DeriveFromEvidence(graph domain.EvidenceReader, ledger domain.ClaimReader) domain.ModelStats {
	p := newProjection()

	for _, ev := range graph.Events() {
		applyEvent(p, ev)
	}
	if ledger != nil {
		for _, c := range ledger.Claims() {
			if c.Verified != nil && !*c.Verified {
				continue
			}
			applyClaim(p, c)
		}
	}

	m.mu.Lock()
	m.entities = p.entities
	m.edges = p.edges
	m.mu.Unlock()

	stats := m.Stats()
	m.logger.Debug("target model derived",
		zap.Int("entities", stats.TotalEntities),
		zap.Int("edges", stats.TotalEdges))
	return stats
}

func applyEvent(p *projection, ev domain.EvidenceEvent) {
	host := hostOf(ev.Target)
	switch ev.EventType {
	case domain.EventDNSRecord:
		if host == "" {
			return
		}
		p.entity(HostID(host), domain.EntityHost, map[string]any{"hostname": host}, "")
		if ip := payloadString(ev.Payload, "value"); ip != "" && strings.EqualFold(payloadString(ev.Payload, "record_type"), "A") {
			p.entities[HostID(host)].Attributes["ip"] = ip
		}

	case domain.EventPortScan:
		if host == "" {
			return
		}
		p.entity(HostID(host), domain.EntityHost, map[string]any{"hostname": host}, "")
		port := payloadString(ev.Payload, "port")
		if port == "" {
			return
		}
		if state := payloadString(ev.Payload, "state"); state != "" && state != "open" {
			return
		}
		svc := ServiceID(host, port)
		p.entity(svc, domain.EntityService, map[string]any{
			"port":     port,
			"protocol": payloadString(ev.Payload, "protocol"),
			"name":     payloadString(ev.Payload, "service"),
			"version":  payloadString(ev.Payload, "version"),
		}, "")
		p.edge(HostID(host), svc, domain.RelExposes, "")

	case domain.EventOSDetection:
		if host == "" {
			return
		}
		p.entity(HostID(host), domain.EntityHost, map[string]any{"os": payloadString(ev.Payload, "os")}, "")

	case domain.EventEndpointDiscovered, domain.EventJSFetchCall:
		method, path := endpointOf(ev)
		if path == "" {
			return
		}
		id := EndpointID(method, path)
		p.entity(id, domain.EntityEndpoint, map[string]any{
			"method": strings.ToUpper(orDefault(method, "GET")),
			"path":   path,
			"source": string(ev.EventType),
		}, "")
		if host != "" {
			p.ensure(HostID(host), domain.EntityHost)
			p.edge(HostID(host), id, domain.RelContains, "")
		}

	case domain.EventTechDetection:
		name := payloadString(ev.Payload, "name")
		if name == "" {
			return
		}
		tech := TechnologyID(name)
		p.entity(tech, domain.EntityTechnology, map[string]any{
			"name":     name,
			"version":  payloadString(ev.Payload, "version"),
			"category": payloadString(ev.Payload, "category"),
		}, "")
		if host != "" {
			p.ensure(HostID(host), domain.EntityHost)
			p.edge(HostID(host), tech, domain.RelUses, "")
		}

	case domain.EventHTTPHeader:
		if host == "" {
			return
		}
		name := payloadString(ev.Payload, "name")
		if name == "" {
			return
		}
		p.ensure(HostID(host), domain.EntityHost)
		hostEntity := p.entities[HostID(host)]
		// Copy on write: an entity_observed payload may have supplied the
		// existing map.
		existing, _ := hostEntity.Attributes["headers"].(map[string]any)
		headers := domain.ClonePayload(existing)
		if headers == nil {
			headers = make(map[string]any)
		}
		headers[strings.ToLower(name)] = payloadString(ev.Payload, "value")
		hostEntity.Attributes["headers"] = headers

	case domain.EventEntityObserved:
		id := payloadString(ev.Payload, "id")
		t := payloadString(ev.Payload, "entity_type")
		if id == "" || !domain.ValidEntityType(t) {
			return
		}
		attrs, _ := ev.Payload["attributes"].(map[string]any)
		p.entity(id, domain.EntityType(t), attrs, "")

	case domain.EventRelationshipObserved:
		src := payloadString(ev.Payload, "source")
		dst := payloadString(ev.Payload, "target")
		rel := payloadString(ev.Payload, "relationship")
		if src == "" || dst == "" || !domain.ValidRelationship(rel) {
			return
		}
		p.edge(src, dst, domain.Relationship(rel), "")
	}
}

func applyClaim(p *projection, c *domain.Claim) {
	host := hostOf(c.Subject)
	switch pred := c.Predicate.(type) {
	case domain.EndpointPredicate:
		if pred.Path == "" {
			return
		}
		id := EndpointID(pred.Method, pred.Path)
		p.entity(id, domain.EntityEndpoint, map[string]any{
			"method":   strings.ToUpper(orDefault(pred.Method, "GET")),
			"path":     pred.Path,
			"base_url": pred.BaseURL,
		}, c.ID)
		if h := hostOf(pred.BaseURL); h != "" {
			host = h
		}
		if host != "" {
			p.ensure(HostID(host), domain.EntityHost)
			p.edge(HostID(host), id, domain.RelContains, c.ID)
		}

	case domain.ComponentPredicate:
		if pred.Name == "" {
			return
		}
		id := ComponentID(pred.Name)
		p.entity(id, domain.EntityComponent, map[string]any{"name": pred.Name, "type": pred.Type}, c.ID)
		if host != "" {
			p.ensure(HostID(host), domain.EntityHost)
			p.edge(HostID(host), id, domain.RelContains, c.ID)
		}
		for _, ep := range pred.Endpoints {
			p.ensure(ep, domain.EntityEndpoint)
			p.edge(id, ep, domain.RelExposes, c.ID)
		}

	case domain.FrameworkPredicate:
		if pred.Name == "" {
			return
		}
		id := TechnologyID(pred.Name)
		p.entity(id, domain.EntityTechnology, map[string]any{
			"name":     pred.Name,
			"version":  pred.Version,
			"category": "framework",
		}, c.ID)
		if host != "" {
			p.ensure(HostID(host), domain.EntityHost)
			p.edge(HostID(host), id, domain.RelUses, c.ID)
		}

	case domain.DataFlowPredicate:
		if pred.Source == "" || pred.Sink == "" {
			return
		}
		p.ensure(pred.Source, domain.EntityComponent)
		p.ensure(pred.Sink, domain.EntityComponent)
		p.edge(pred.Source, pred.Sink, domain.RelFlowsTo, c.ID)

	case domain.WAFPredicate:
		if pred.Vendor == "" {
			return
		}
		id := TechnologyID(pred.Vendor)
		p.entity(id, domain.EntityTechnology, map[string]any{"name": pred.Vendor, "category": "waf"}, c.ID)
		if h := hostOf(pred.URL); h != "" {
			host = h
		}
		if host != "" {
			p.ensure(HostID(host), domain.EntityHost)
			p.edge(HostID(host), id, domain.RelUses, c.ID)
		}

	case domain.SecurityHeaderPredicate:
		if h := hostOf(pred.URL); h != "" {
			host = h
		}
		if host == "" || pred.Header == "" {
			return
		}
		p.entity(HostID(host), domain.EntityHost, nil, c.ID)
		hostEntity := p.entities[HostID(host)]
		missing, _ := hostEntity.Attributes["missing_headers"].([]string)
		header := strings.ToLower(pred.Header)
		if !slices.Contains(missing, header) {
			missing = append(missing, header)
			sort.Strings(missing)
		}
		hostEntity.Attributes["missing_headers"] = missing
	}
}

// hostOf extracts a hostname from a bare host, a host:port or a URL. Subjects
// that are entity ids or free text yield "".
func hostOf(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		return strings.ToLower(u.Hostname())
	}
	if strings.ContainsAny(s, " /") {
		return ""
	}
	if strings.HasPrefix(s, "host:") {
		return strings.ToLower(strings.TrimPrefix(s, "host:"))
	}
	if strings.Count(s, ":") > 1 {
		return ""
	}
	if h, _, ok := strings.Cut(s, ":"); ok {
		return strings.ToLower(h)
	}
	return strings.ToLower(s)
}

func endpointOf(ev domain.EvidenceEvent) (method, path string) {
	method = payloadString(ev.Payload, "method")
	path = payloadString(ev.Payload, "path")
	if path == "" {
		if raw := payloadString(ev.Payload, "url"); raw != "" {
			if u, err := url.Parse(raw); err == nil {
				path = u.Path
			}
		}
	}
	if path == "" && strings.HasPrefix(ev.Target, "/") {
		path = ev.Target
	}
	return method, path
}

func payloadString(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// GetEntity returns a copy of the entity with id.
func (m *TargetModel) GetEntity(id string) (domain.Entity, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entities[id]
	if !ok {
		return domain.Entity{}, false
	}
	return copyEntity(e), true
}

// Entities returns entities of type t sorted by id. An empty t returns all.
func (m *TargetModel) Entities(t domain.EntityType) []domain.Entity {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Entity, 0, len(m.entities))
	for _, e := range m.entities {
		if t == "" || e.EntityType == t {
			out = append(out, copyEntity(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Endpoints returns endpoint entities sorted by id.
func (m *TargetModel) Endpoints() []domain.Entity {
	return m.Entities(domain.EntityEndpoint)
}

// Edges returns a copy of every edge ordered by source, relationship and
// target.
func (m *TargetModel) Edges() []domain.Edge {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Edge, 0, len(m.edges))
	for _, e := range m.edges {
		c := *e
		c.ClaimRefs = slices.Clone(e.ClaimRefs)
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Source != out[j].Source {
			return out[i].Source < out[j].Source
		}
		if out[i].Relationship != out[j].Relationship {
			return out[i].Relationship < out[j].Relationship
		}
		return out[i].Target < out[j].Target
	})
	return out
}

func (m *TargetModel) Stats() domain.ModelStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := domain.ModelStats{
		TotalEntities: len(m.entities),
		TotalEdges:    len(m.edges),
		ByType:        make(map[domain.EntityType]int),
		ByRelation:    make(map[domain.Relationship]int),
	}
	for _, e := range m.entities {
		stats.ByType[e.EntityType]++
	}
	for _, e := range m.edges {
		stats.ByRelation[e.Relationship]++
	}
	return stats
}

// Export returns the model sorted so equal models serialize identically.
func (m *TargetModel) Export() domain.TargetModelState {
	return domain.TargetModelState{
		Entities: m.Entities(""),
		Edges:    m.Edges(),
	}
}

// Import loads a previously exported projection. It exists for inspecting a
// snapshot without its evidence; any later DeriveFromEvidence replaces it.
func (m *TargetModel) Import(state domain.TargetModelState) error {
	for _, e := range state.Entities {
		if e.ID == "" || !domain.ValidEntityType(string(e.EntityType)) {
			return &domain.ValidationError{Field: "entities", Reason: fmt.Sprintf("invalid entity %q of type %q", e.ID, e.EntityType)}
		}
	}
	for _, e := range state.Edges {
		if e.Source == "" || e.Target == "" || !domain.ValidRelationship(string(e.Relationship)) {
			return &domain.ValidationError{Field: "edges", Reason: fmt.Sprintf("invalid edge %s -%s-> %s", e.Source, e.Relationship, e.Target)}
		}
	}
	p := newProjection()
	for _, e := range state.Entities {
		c := copyEntity(&e)
		p.entities[e.ID] = &c
	}
	for _, e := range state.Edges {
		for _, ref := range e.ClaimRefs {
			p.edge(e.Source, e.Target, e.Relationship, ref)
		}
		p.edge(e.Source, e.Target, e.Relationship, "")
	}
	m.mu.Lock()
	m.entities = p.entities
	m.edges = p.edges
	m.mu.Unlock()
	return nil
}

func copyEntity(e *domain.Entity) domain.Entity {
	out := *e
	out.Attributes = domain.ClonePayload(e.Attributes)
	out.ClaimRefs = slices.Clone(e.ClaimRefs)
	return out
}
