// Package mcpserver exposes the merged context graph to agents over the
// Model Context Protocol.
package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/brunobiangulo/goecl/graph"
)

// GraphSource returns the graph tools should answer from. It is called once
// per request and the returned graph must not be mutated afterwards.
type GraphSource func() *graph.ContextGraph

// Opportunity type filters accepted by find_opportunities.
const (
	OpportunityAll         = "ALL"
	OpportunityUpsell      = "UPSELL"
	OpportunityRemoval     = "EQUIPMENT_REMOVAL"
	OpportunityMaintenance = "MAINTENANCE"
)

const graphURI = "goecl://graph"

// Server adapts a context graph to MCP tools.
type Server struct {
	mcpServer *server.MCPServer
	graph     GraphSource
}

// New builds a server with every tool and the graph resource registered.
func New(version string, src GraphSource) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer("goecl", version,
			server.WithToolCapabilities(false),
			server.WithResourceCapabilities(false, false),
		),
		graph: src,
	}
	s.registerTools()
	s.registerResources()
	return s
}

// MCPServer returns the underlying server, for transports other than stdio.
func (s *Server) MCPServer() *server.MCPServer { return s.mcpServer }

// Serve runs the server on stdin/stdout until the input closes.
func (s *Server) Serve() error {
	return server.ServeStdio(s.mcpServer)
}

func (s *Server) current() *graph.ContextGraph {
	if s.graph == nil {
		return graph.NewContextGraph()
	}
	if g := s.graph(); g != nil {
		return g
	}
	return graph.NewContextGraph()
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("get_tower_context",
		mcp.WithDescription("Get complete context for a tower including contracts, equipment, opportunities, and risks"),
		mcp.WithString("tower_id", mcp.Required(), mcp.Description("Tower identifier, matched as a case-insensitive substring of the entity id")),
	), s.handleTowerContext)

	s.mcpServer.AddTool(mcp.NewTool("find_opportunities",
		mcp.WithDescription("Find upsell, equipment removal and maintenance opportunities across towers"),
		mcp.WithString("opportunity_type",
			mcp.Description("Opportunity type filter (default ALL)"),
			mcp.Enum(OpportunityUpsell, OpportunityRemoval, OpportunityMaintenance, OpportunityAll)),
	), s.handleFindOpportunities)

	s.mcpServer.AddTool(mcp.NewTool("assess_risk",
		mcp.WithDescription("Assess financial and operational risks, optionally around one entity"),
		mcp.WithString("entity_id", mcp.Description("Limit the assessment to risks connected to this entity")),
	), s.handleAssessRisk)

	s.mcpServer.AddTool(mcp.NewTool("get_company_relationships",
		mcp.WithDescription("Get all relationships for a company across towers"),
		mcp.WithString("company_name", mcp.Required(), mcp.Description("Company name or a fragment of it")),
	), s.handleCompanyRelationships)

	s.mcpServer.AddTool(mcp.NewTool("search_entities",
		mcp.WithDescription("Search extracted entities by type or keyword"),
		mcp.WithString("entity_type", mcp.Description("Entity type such as Tower, Company or Risk")),
		mcp.WithString("keyword", mcp.Description("Case-insensitive keyword matched against the whole entity")),
	), s.handleSearchEntities)
}

func (s *Server) registerResources() {
	s.mcpServer.AddResource(mcp.NewResource(
		graphURI,
		"Context Graph",
		mcp.WithResourceDescription("Every merged entity and relationship from the latest extraction"),
		mcp.WithMIMEType("application/json"),
	), s.handleReadGraph)
}

func (s *Server) handleReadGraph(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	data, err := marshal(s.current().Snapshot(), "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal graph: %w", err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      request.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

// TowerContext is the answer to get_tower_context.
type TowerContext struct {
	Tower             graph.Entity         `json:"tower"`
	ConnectedEntities []graph.Entity       `json:"connected_entities"`
	Relationships     []graph.Relationship `json:"relationships"`
	EntityCount       int                  `json:"entity_count"`
	RelationshipCount int                  `json:"relationship_count"`
}

type notFound struct {
	Error           string   `json:"error"`
	AvailableTowers []string `json:"available_towers,omitempty"`
}

func (s *Server) handleTowerContext(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	towerID := strings.TrimSpace(mcp.ParseString(request, "tower_id", ""))
	if towerID == "" {
		return mcp.NewToolResultError("tower_id is required"), nil
	}
	g := s.current()
	tc, ok := TowerContextOf(g, towerID)
	if !ok {
		var names []string
		for _, e := range g.EntitiesOfType(graph.EntityTower) {
			names = append(names, e.Name)
		}
		return jsonError(notFound{Error: fmt.Sprintf("Tower %s not found", towerID), AvailableTowers: names})
	}
	return jsonResult(tc)
}

// TowerContextOf finds the first tower whose id contains towerID and
// gathers every entity and edge incident to it. The tower itself is listed
// among the connected entities when it has at least one edge.
func TowerContextOf(g *graph.ContextGraph, towerID string) (TowerContext, bool) {
	needle := strings.ToLower(towerID)
	for _, t := range g.EntitiesOfType(graph.EntityTower) {
		if !strings.Contains(strings.ToLower(t.ID), needle) {
			continue
		}
		rels := g.Incident(t.ID)
		connected := []graph.Entity{}
		if len(rels) > 0 {
			connected = append(connected, t)
		}
		connected = append(connected, g.Neighbors(t.ID)...)
		if rels == nil {
			rels = []graph.Relationship{}
		}
		return TowerContext{
			Tower:             t,
			ConnectedEntities: connected,
			Relationships:     rels,
			EntityCount:       len(connected),
			RelationshipCount: len(rels),
		}, true
	}
	return TowerContext{}, false
}

// Opportunities is the answer to find_opportunities.
type Opportunities struct {
	Opportunities []graph.Entity `json:"opportunities"`
	Count         int            `json:"count"`
	Filter        string         `json:"filter"`
}

func (s *Server) handleFindOpportunities(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter := strings.ToUpper(strings.TrimSpace(mcp.ParseString(request, "opportunity_type", OpportunityAll)))
	if filter == "" {
		filter = OpportunityAll
	}
	switch filter {
	case OpportunityAll, OpportunityUpsell, OpportunityRemoval, OpportunityMaintenance:
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown opportunity_type %q", filter)), nil
	}
	return jsonResult(FindOpportunities(s.current(), filter))
}

// FindOpportunities lists Opportunity entities whose opportunity_type
// property equals filter, or all of them for OpportunityAll.
func FindOpportunities(g *graph.ContextGraph, filter string) Opportunities {
	out := Opportunities{Opportunities: []graph.Entity{}, Filter: filter}
	for _, e := range g.EntitiesOfType(graph.EntityOpportunity) {
		if filter != OpportunityAll {
			if t, _ := e.Properties["opportunity_type"].Str(); !strings.EqualFold(t, filter) {
				continue
			}
		}
		out.Opportunities = append(out.Opportunities, e)
	}
	out.Count = len(out.Opportunities)
	return out
}

// RiskAssessment is the answer to assess_risk.
type RiskAssessment struct {
	EntityID         string         `json:"entity_id,omitempty"`
	Risks            []graph.Entity `json:"risks"`
	FinancialSummary []graph.Entity `json:"financial_summary"`
	TotalRisks       int            `json:"total_risks"`
}

func (s *Server) handleAssessRisk(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := strings.TrimSpace(mcp.ParseString(request, "entity_id", ""))
	ra, ok := AssessRisk(s.current(), id)
	if !ok {
		return jsonError(notFound{Error: fmt.Sprintf("Entity %s not found", id)})
	}
	return jsonResult(ra)
}

// AssessRisk gathers Risk and Financial entities. With an empty entityID it
// returns all of them; otherwise only those adjacent to that entity, and
// false when the entity does not exist.
func AssessRisk(g *graph.ContextGraph, entityID string) (RiskAssessment, bool) {
	ra := RiskAssessment{EntityID: entityID, Risks: []graph.Entity{}, FinancialSummary: []graph.Entity{}}
	candidates := g.Entities()
	if entityID != "" {
		if _, ok := g.Entity(entityID); !ok {
			return RiskAssessment{}, false
		}
		candidates = g.Neighbors(entityID)
	}
	for _, e := range candidates {
		switch e.Type {
		case graph.EntityRisk:
			ra.Risks = append(ra.Risks, e)
		case graph.EntityFinancial:
			ra.FinancialSummary = append(ra.FinancialSummary, e)
		}
	}
	ra.TotalRisks = len(ra.Risks)
	return ra, true
}

// CompanyRelationships is the answer to get_company_relationships.
type CompanyRelationships struct {
	Company           graph.Entity         `json:"company"`
	Relationships     []graph.Relationship `json:"relationships"`
	RelationshipCount int                  `json:"relationship_count"`
}

func (s *Server) handleCompanyRelationships(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := strings.TrimSpace(mcp.ParseString(request, "company_name", ""))
	if name == "" {
		return mcp.NewToolResultError("company_name is required"), nil
	}
	g := s.current()
	company, ok := g.FindByName(graph.EntityCompany, name)
	if !ok {
		return jsonError(notFound{Error: fmt.Sprintf("Company %s not found", name)})
	}
	rels := g.Incident(company.ID)
	if rels == nil {
		rels = []graph.Relationship{}
	}
	return jsonResult(CompanyRelationships{Company: company, Relationships: rels, RelationshipCount: len(rels)})
}

// SearchResults is the answer to search_entities.
type SearchResults struct {
	Results []graph.Entity `json:"results"`
	Count   int            `json:"count"`
}

func (s *Server) handleSearchEntities(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	typ := strings.TrimSpace(mcp.ParseString(request, "entity_type", ""))
	keyword := strings.TrimSpace(mcp.ParseString(request, "keyword", ""))
	return jsonResult(SearchEntities(s.current(), typ, keyword))
}

// SearchEntities matches entity type case-insensitively and keyword as a
// case-insensitive substring of the entity's id, type, name, source expert,
// property keys or property values. Empty arguments match everything.
func SearchEntities(g *graph.ContextGraph, entityType, keyword string) SearchResults {
	out := SearchResults{Results: []graph.Entity{}}
	keyword = strings.ToLower(keyword)
	for _, e := range g.Entities() {
		if entityType != "" && !strings.EqualFold(string(e.Type), entityType) {
			continue
		}
		if keyword != "" && !entityMatches(e, keyword) {
			continue
		}
		out.Results = append(out.Results, e)
	}
	out.Count = len(out.Results)
	return out
}

// entityMatches reports whether lowered keyword occurs in any text field of e.
func entityMatches(e graph.Entity, keyword string) bool {
	fields := []string{e.ID, string(e.Type), e.Name, e.SourceExpert}
	for _, k := range e.Properties.Keys() {
		fields = append(fields, k, e.Properties[k].String())
	}
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), keyword) {
			return true
		}
	}
	return false
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := marshal(v, "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encoding result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func jsonError(v notFound) (*mcp.CallToolResult, error) {
	data, err := marshal(v, "")
	if err != nil {
		return mcp.NewToolResultError(v.Error), nil
	}
	return mcp.NewToolResultError(string(data)), nil
}

// marshal encodes v without HTML escaping so names like "AT&T" survive
// verbatim in tool output and keyword matching.
func marshal(v any, indent string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", indent)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
