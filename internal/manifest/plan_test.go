package manifest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultPlan(t *testing.T, topology Topology) *Plan {
	t.Helper()
	m, err := Default()
	require.NoError(t, err)
	plan, err := m.Resolve(topology)
	require.NoError(t, err)
	return plan
}

func TestResolve_SingleNamespace(t *testing.T) {
	t.Parallel()

	plan := defaultPlan(t, TopologySingle)

	assert.Equal(t, TopologySingle, plan.Topology)
	assert.Equal(t, []string{"smartshopai"}, plan.Namespaces)
	assert.Len(t, plan.Collections, 22)
	assert.Len(t, plan.Indexes, 22)
	require.Len(t, plan.Seeds, 2)

	for _, c := range plan.Collections {
		assert.Equal(t, "smartshopai", c.Namespace)
		assert.NotEqual(t, "init", c.Name, "placeholder collections only exist per service")
	}

	assert.Equal(t, "admin", plan.Principal.Database)
	assert.Equal(t, []Role{{Role: "readWrite", DB: "smartshopai"}}, plan.Principal.Roles)

	assert.Equal(t, Seed{Namespace: "smartshopai", Collection: "users", Document: plan.Seeds[0].Document}, plan.Seeds[0])
	id, _ := plan.Seeds[1].Document.Get("_id")
	assert.Equal(t, "product-001", id)
}

func TestResolve_PerServiceNamespace(t *testing.T) {
	t.Parallel()

	plan := defaultPlan(t, TopologyPerService)

	assert.Equal(t, []string{
		"smartshopai_users",
		"smartshopai_products",
		"smartshopai_ai_analysis",
		"smartshopai_ai_recommendation",
		"smartshopai_ai_search",
		"smartshopai_search",
		"smartshopai_notification",
		"smartshopai_monitoring",
		"smartshopai_business_intelligence",
		"smartshopai_session_cache",
	}, plan.Namespaces)

	// 22 service collections plus one placeholder per namespace.
	assert.Len(t, plan.Collections, 32)
	assert.Contains(t, plan.Collections, Collection{Namespace: "smartshopai_session_cache", Name: "init"})
	assert.Contains(t, plan.Collections, Collection{Namespace: "smartshopai_users", Name: "users"})

	assert.Len(t, plan.Principal.Roles, 10)
	assert.Contains(t, plan.Principal.Roles, Role{Role: "readWrite", DB: "smartshopai_products"})

	for _, idx := range plan.Indexes {
		if idx.Collection == "users" {
			assert.Equal(t, "smartshopai_users", idx.Namespace)
		}
	}
	assert.Equal(t, "smartshopai_products", plan.Seeds[1].Namespace)
}

func TestResolve_DeduplicatesCollections(t *testing.T) {
	t.Parallel()

	m := &Manifest{
		Version:  1,
		Database: "shop",
		Services: []Service{
			{Name: "a", Collections: []string{"products", "product_analyses"}},
			{Name: "b", Collections: []string{"product_analyses", "analysis_requests"}},
		},
	}

	plan, err := m.Resolve(TopologySingle)
	require.NoError(t, err)
	assert.Equal(t, []Collection{
		{Namespace: "shop", Name: "products"},
		{Namespace: "shop", Name: "product_analyses"},
		{Namespace: "shop", Name: "analysis_requests"},
	}, plan.Collections)

	plan, err = m.Resolve(TopologyPerService)
	require.NoError(t, err)
	assert.Len(t, plan.Collections, 4, "per-service namespaces each keep their own copy")
	assert.Equal(t, []string{"a", "b"}, plan.Namespaces, "service name is the fallback suffix")
}

func TestResolve_ExplicitRolesKeptFirst(t *testing.T) {
	t.Parallel()

	m := &Manifest{
		Version:  1,
		Database: "smartshopai",
		Principal: Principal{
			Name:          "admin",
			Secret:        "password",
			Database:      "smartshopai",
			NamespaceRole: "readWrite",
			Roles: []Role{
				{Role: "readWrite", DB: "smartshopai"},
				{Role: "readWriteAnyDatabase", DB: "admin"},
			},
		},
		Services: []Service{{Name: "users"}},
	}

	plan, err := m.Resolve(TopologySingle)
	require.NoError(t, err)
	assert.Equal(t, "smartshopai", plan.Principal.Database)
	assert.Equal(t, []Role{
		{Role: "readWrite", DB: "smartshopai"},
		{Role: "readWriteAnyDatabase", DB: "admin"},
	}, plan.Principal.Roles)
}

func TestResolve_UnknownTopology(t *testing.T) {
	t.Parallel()

	m := &Manifest{Version: 1, Database: "shop"}
	_, err := m.Resolve("sharded")
	assert.Error(t, err)
}

func TestPlan_WithSecret(t *testing.T) {
	t.Parallel()

	plan := defaultPlan(t, TopologySingle)

	assert.Same(t, plan, plan.WithSecret(""))

	overridden := plan.WithSecret("from-env")
	assert.Equal(t, "from-env", overridden.Principal.Secret)
	assert.Equal(t, "smartshopai_password", plan.Principal.Secret)
}

func TestParseTopologyAndSeedMode(t *testing.T) {
	t.Parallel()

	topo, err := ParseTopology("per-service-namespace")
	require.NoError(t, err)
	assert.Equal(t, TopologyPerService, topo)
	_, err = ParseTopology("")
	assert.Error(t, err)

	mode, err := ParseSeedMode("insert")
	require.NoError(t, err)
	assert.Equal(t, SeedModeInsert, mode)
	_, err = ParseSeedMode("upsert")
	assert.Error(t, err)
}

func TestIndexSpec_String(t *testing.T) {
	t.Parallel()

	spec := IndexSpec{
		Namespace:  "smartshopai",
		Collection: "products",
		Keys:       []IndexKey{{Field: "name", Kind: KindText}, {Field: "description", Kind: KindText}},
	}
	assert.Equal(t, "smartshopai.products{name:text,description:text}", spec.String())

	spec = IndexSpec{Namespace: "smartshopai", Collection: "users", Keys: []IndexKey{{Field: "email", Kind: KindAsc}}, Unique: true}
	assert.Equal(t, "smartshopai.users{email:asc} unique", spec.String())
}
