// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package api

import (
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/distill-api/distill/core"
	"github.com/distill-api/distill/core/logger"
)

// Rule is one generated URL rule
type Rule struct {
	Path      string   `json:"path"`
	Methods   []string `json:"methods"`
	Endpoint  string   `json:"endpoint"`
	Subdomain string   `json:"subdomain,omitempty"`
}

var duplicateSeparators = regexp.MustCompile(`/+`)

// buildRule concatenates the global route prefix, the model's base and the
// route's own fragment into a final rule. Duplicate path separators collapse
// to one and a trailing separator is stripped, so declarations can be
// sloppy about leading and trailing slashes.
func buildRule(prefix, base, fragment string) string {
	parts := []string{}
	if prefix != "" {
		parts = append(parts, prefix)
	}
	if base != "" {
		parts = append(parts, base)
	}
	parts = append(parts, fragment)
	rule := "/" + strings.Join(parts, "/")
	rule = duplicateSeparators.ReplaceAllString(rule, "/")
	if len(rule) > 1 {
		rule = strings.TrimSuffix(rule, "/")
	}
	return rule
}

// routeBase returns the base path segment for the model's routes: the
// explicit override, else the table name, else the lower-cased model name
func (m *Model) routeBasePath() string {
	if m.routeBase != "" {
		return strings.Trim(m.routeBase, "/")
	}
	if m.table != "" {
		return strings.Trim(m.table, "/")
	}
	return strings.ToLower(m.name)
}

// endpointName builds the unique endpoint name for one rule of a route:
// the explicit name if declared, else "Model:route", disambiguated with a
// numeric suffix when the route has more than one rule.
func endpointName(model, route, explicit string, idx, total int) string {
	if explicit != "" {
		return explicit
	}
	name := model + ":" + route
	if total > 1 {
		name += "_" + strconv.Itoa(idx)
	}
	return name
}

func (a *API) addRule(router *mux.Router, rule Rule, handler http.HandlerFunc) {
	logger.Default().Debugln("  handle route:", rule.Path, strings.Join(rule.Methods, ","))
	r := router.HandleFunc(rule.Path, handler).Methods(rule.Methods...).Name(rule.Endpoint)
	if rule.Subdomain != "" {
		if a.domain == "" {
			panic("route " + rule.Endpoint + " declares subdomain " + rule.Subdomain +
				" but the builder has no Domain")
		}
		r.Host(rule.Subdomain + "." + a.domain)
	}
	a.rules = append(a.rules, rule)
}

// handleModelRoutes installs the generated CRUD routes the model opts into,
// plus all custom declared routes
func (a *API) handleModelRoutes(router *mux.Router, m *Model) {
	base := m.routeBasePath()
	m.basePath = buildRule(a.prefix, base, "")

	nillog := logger.Default()
	nillog.Debugln("create model routes:", m.name, "under", m.basePath)

	type autoRoute struct {
		op       core.Operation
		fragment string
		method   string
		handler  func(*Model) http.HandlerFunc
	}
	addAuto := func(routes []autoRoute) {
		for _, route := range routes {
			if !m.hasAutoRoute(route.op) {
				continue
			}
			rule := Rule{
				Path:      buildRule(a.prefix, base, route.fragment),
				Methods:   []string{route.method},
				Endpoint:  endpointName(m.name, string(route.op), "", 0, 1),
				Subdomain: m.subdomain,
			}
			a.addRule(router, rule, route.handler(m))
		}
	}

	// mux matches routes in registration order, so everything with a static
	// path must be installed before the {identifier} variable swallows it.
	addAuto([]autoRoute{
		{core.OperationIndex, "", "GET", a.indexHandler},
		{core.OperationPost, "", "POST", a.postHandler},
		{core.OperationMeta, "/meta", "GET", a.metaHandler},
	})

	// custom routes, grouped by name for endpoint disambiguation
	perName := map[string]int{}
	for _, cr := range m.customRoutes {
		perName[cr.name]++
	}
	seen := map[string]int{}
	for _, cr := range m.customRoutes {
		idx := seen[cr.name]
		seen[cr.name]++
		methods := cr.options.Methods
		if len(methods) == 0 {
			methods = []string{"GET"}
		}
		subdomain := cr.options.Subdomain
		if subdomain == "" {
			subdomain = m.subdomain
		}
		rule := Rule{
			Path:      buildRule(a.prefix, base, cr.fragment),
			Methods:   methods,
			Endpoint:  endpointName(m.name, cr.name, cr.options.Endpoint, idx, perName[cr.name]),
			Subdomain: subdomain,
		}
		handler := cr.handler
		a.addRule(router, rule, func(w http.ResponseWriter, r *http.Request) {
			rc := a.newContext(r)
			handler(rc, w, r)
		})
	}

	addAuto([]autoRoute{
		{core.OperationGet, "/{identifier}", "GET", a.getHandler},
		{core.OperationPut, "/{identifier}", "PUT", a.putHandler},
		{core.OperationDelete, "/{identifier}", "DELETE", a.deleteHandler},
	})
}
