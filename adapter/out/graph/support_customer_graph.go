package graph

import (
	"context"
	"fmt"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"support_server/core/domain"
	"support_server/core/port/out"
)

// CustomerGraphAdapter links requests to the customer, organization and device they mention.
//
//	(:Customer)-[:SUBMITTED]->(:Request)-[:ABOUT]->(:Device)
//	(:Customer)-[:WORKS_AT]->(:Organization)-[:OWNS]->(:Device)
type CustomerGraphAdapter struct {
	driver neo4j.DriverWithContext
	dbName string
}

func NewCustomerGraphAdapter(driver neo4j.DriverWithContext, dbName string) *CustomerGraphAdapter {
	return &CustomerGraphAdapter{driver: driver, dbName: dbName}
}

// EnsureIndexes creates the uniqueness constraints MERGE relies on.
func (a *CustomerGraphAdapter) EnsureIndexes(ctx context.Context) error {
	session := a.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: a.dbName})
	defer session.Close(ctx)

	queries := []string{
		`CREATE CONSTRAINT customer_email IF NOT EXISTS FOR (c:Customer) REQUIRE c.email IS UNIQUE`,
		`CREATE CONSTRAINT request_id IF NOT EXISTS FOR (r:Request) REQUIRE r.id IS UNIQUE`,
		`CREATE CONSTRAINT organization_key IF NOT EXISTS FOR (o:Organization) REQUIRE o.key IS UNIQUE`,
		`CREATE CONSTRAINT device_serial IF NOT EXISTS FOR (d:Device) REQUIRE d.serial IS UNIQUE`,
	}
	for _, query := range queries {
		if _, err := session.Run(ctx, query, nil); err != nil {
			return fmt.Errorf("failed to create constraint: %w", err)
		}
	}
	return nil
}

// RecordRequest merges the request and its relations in one write transaction.
func (a *CustomerGraphAdapter) RecordRequest(ctx context.Context, req *domain.Request) error {
	query, params := recordRequestQuery(req)

	session := a.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: a.dbName, AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		return result.Consume(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to record request in graph: %w", err)
	}
	return nil
}

const relatedRequestsQuery = `
	MATCH (r:Request {id: $id})
	OPTIONAL MATCH (r)<-[:SUBMITTED]-(:Customer)-[:SUBMITTED]->(same:Request)
	OPTIONAL MATCH (r)-[:ABOUT]->(:Device)<-[:ABOUT]-(device:Request)
	OPTIONAL MATCH (r)<-[:SUBMITTED]-(:Customer)-[:WORKS_AT]->(:Organization)<-[:WORKS_AT]-(:Customer)-[:SUBMITTED]->(org:Request)
	WITH collect(DISTINCT same) + collect(DISTINCT device) + collect(DISTINCT org) AS related
	UNWIND related AS rel
	WITH DISTINCT rel
	WHERE rel.id <> $id
	RETURN rel.id AS id
	ORDER BY rel.created_at DESC
	LIMIT $limit
`

// RelatedRequestIDs returns requests sharing a customer, organization or device, newest first.
func (a *CustomerGraphAdapter) RelatedRequestIDs(ctx context.Context, req *domain.Request, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 10
	}

	session := a.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: a.dbName, AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx, relatedRequestsQuery, map[string]any{
		"id":    req.ID.String(),
		"limit": int64(limit),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query related requests: %w", err)
	}

	var ids []string
	for result.Next(ctx) {
		if id := getStringValue(result.Record(), "id"); id != "" {
			ids = append(ids, id)
		}
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("failed to read related requests: %w", err)
	}
	return ids, nil
}

// recordRequestQuery builds the MERGE statement for the fields the request carries.
func recordRequestQuery(req *domain.Request) (string, map[string]any) {
	params := map[string]any{
		"id":        req.ID.String(),
		"email":     strings.ToLower(strings.TrimSpace(req.Email)),
		"name":      req.FullName,
		"phone":     req.Phone,
		"category":  string(req.Category),
		"status":    string(req.Status),
		"createdAt": req.CreatedAt.Unix(),
	}

	var b strings.Builder
	b.WriteString(`
	MERGE (c:Customer {email: $email})
	SET c.name = CASE WHEN $name = '' THEN c.name ELSE $name END,
		c.phone = CASE WHEN $phone = '' THEN c.phone ELSE $phone END
	MERGE (r:Request {id: $id})
	SET r.category = $category, r.status = $status, r.created_at = $createdAt
	MERGE (c)-[:SUBMITTED]->(r)`)

	orgKey := organizationKey(req)
	if orgKey != "" {
		params["orgKey"] = orgKey
		params["orgName"] = req.Organization
		params["inn"] = req.INN
		b.WriteString(`
	MERGE (o:Organization {key: $orgKey})
	SET o.name = CASE WHEN $orgName = '' THEN o.name ELSE $orgName END,
		o.inn = CASE WHEN $inn = '' THEN o.inn ELSE $inn END
	MERGE (c)-[:WORKS_AT]->(o)`)
	}

	if serial := strings.TrimSpace(req.SerialNumber); serial != "" {
		params["serial"] = serial
		params["deviceType"] = req.DeviceType
		b.WriteString(`
	MERGE (d:Device {serial: $serial})
	SET d.type = CASE WHEN $deviceType = '' THEN d.type ELSE $deviceType END
	MERGE (r)-[:ABOUT]->(d)`)
		if orgKey != "" {
			b.WriteString(`
	MERGE (o)-[:OWNS]->(d)`)
		}
	}
	return b.String(), params
}

// organizationKey prefers the taxpayer number; the lowercased name is the fallback.
func organizationKey(req *domain.Request) string {
	if inn := strings.TrimSpace(req.INN); inn != "" {
		return "inn:" + inn
	}
	if name := strings.TrimSpace(req.Organization); name != "" {
		return "name:" + strings.ToLower(name)
	}
	return ""
}

func getStringValue(record *neo4j.Record, key string) string {
	if val, ok := record.Get(key); ok && val != nil {
		if s, ok := val.(string); ok {
			return s
		}
	}
	return ""
}

var _ out.CustomerGraph = (*CustomerGraphAdapter)(nil)
