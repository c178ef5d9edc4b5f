// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package api

import (
	"strings"

	"github.com/gorilla/mux"

	"github.com/distill-api/distill/core"
	"github.com/distill-api/distill/core/logger"
	"github.com/distill-api/distill/core/schema"
)

// API is the generated REST interface over a set of registered models
type API struct {
	router       *mux.Router
	store        Storage
	models       map[string]*Model
	modelOrder   []string
	rules        []Rule
	notifier     core.Notifier
	validator    *schema.Validator
	prefix       string
	errorMessage string
	domain       string
}

// Builder is the configuration of a new API
type Builder struct {
	// Router is the mux router, mandatory
	Router *mux.Router
	// Storage is the persistence driver, mandatory
	Storage Storage
	// Models are the model declarations to register. Registration seals
	// every model; later declaration calls panic.
	Models []*Model
	// RoutePrefix is prepended to every generated path, for example "/api"
	RoutePrefix string
	// ErrorMessage is appended to the messages of every failure response
	ErrorMessage string
	// Domain is the request host domain, mandatory when any route declares
	// a subdomain
	Domain string
	// Notifier receives a notification after every committed mutation
	Notifier core.Notifier
	// Schemas are JSON schema documents for payload validation, referenced
	// by models via SchemaID
	Schemas []string
	// SchemaRefs are additional schema documents available for resolving
	// references from Schemas
	SchemaRefs []string
}

// New creates and initializes the API from the given builder. Any
// invalid declaration is a programming error and panics at startup, never
// at request time.
func New(bb *Builder) *API {
	if bb.Router == nil {
		panic("builder is missing the router")
	}
	if bb.Storage == nil {
		panic("builder is missing the storage")
	}
	if len(bb.Models) == 0 {
		panic("builder has no models")
	}

	a := &API{
		router:       bb.Router,
		store:        bb.Storage,
		models:       map[string]*Model{},
		notifier:     bb.Notifier,
		prefix:       strings.TrimSuffix(bb.RoutePrefix, "/"),
		errorMessage: bb.ErrorMessage,
		domain:       bb.Domain,
	}
	if a.errorMessage == "" {
		a.errorMessage = "Sorry, your request cannot be completed."
	}
	if len(bb.Schemas) > 0 {
		validator, err := schema.NewValidator(bb.Schemas, bb.SchemaRefs)
		if err != nil {
			panic("cannot load schemas: " + err.Error())
		}
		a.validator = validator
	}

	for _, m := range bb.Models {
		if m.name == "" {
			panic("model without a name")
		}
		if _, ok := a.models[m.name]; ok {
			panic("duplicate model " + m.name)
		}
		a.models[m.name] = m
		a.modelOrder = append(a.modelOrder, m.name)
	}

	for _, name := range a.modelOrder {
		a.validateModel(a.models[name])
	}
	for _, name := range a.modelOrder {
		a.models[name].resolveFields()
	}

	ordered := make([]*Model, 0, len(a.modelOrder))
	for _, name := range a.modelOrder {
		ordered = append(ordered, a.models[name])
	}
	if err := a.store.Initialize(ordered); err != nil {
		panic("cannot initialize storage: " + err.Error())
	}

	logger.Default().Debugln("create routes")
	for _, m := range ordered {
		a.handleModelRoutes(bb.Router, m)
	}
	metaRule := Rule{
		Path:     buildRule(a.prefix, "", "/meta"),
		Methods:  []string{"GET"},
		Endpoint: "api:meta",
	}
	a.addRule(bb.Router, metaRule, a.apiMetaHandler())

	for _, m := range ordered {
		m.sealed = true
	}
	return a
}

// validateModel panics on every declaration error the builder can detect
// statically, before any route exists
func (a *API) validateModel(m *Model) {
	if len(m.columns) == 0 {
		panic("model " + m.name + " has no columns")
	}

	needsIdentifier := m.hasAutoRoute(core.OperationGet) ||
		m.hasAutoRoute(core.OperationPut) || m.hasAutoRoute(core.OperationDelete)
	if needsIdentifier {
		if _, ok := m.columns[m.idField]; !ok {
			panic("model " + m.name + ": identifier field " + m.idField +
				" is not a declared column")
		}
	}

	for _, name := range m.columnOrder {
		c := m.columns[name]
		if c.SetBy == SetByServer {
			if _, ok := m.setters[name]; !ok {
				panic("model " + m.name + ": server-set column " + name +
					" has no setter")
			}
		}
	}

	isStored := func(name string) bool {
		_, ok := m.columns[name]
		return ok
	}
	for name := range m.setters {
		if !isStored(name) {
			panic("model " + m.name + ": setter bound to unknown column " + name)
		}
	}
	for name := range m.getters {
		if _, col := m.columns[name]; !col {
			if _, rel := m.rels[name]; !rel {
				panic("model " + m.name + ": getter bound to unknown field " + name)
			}
		}
	}

	for relName, rel := range m.rels {
		target, ok := a.models[rel.Target]
		if !ok {
			panic("model " + m.name + ": relationship " + relName +
				" targets unknown model " + rel.Target)
		}
		if !isStored(rel.LocalField) {
			panic("model " + m.name + ": relationship " + relName +
				" uses unknown local field " + rel.LocalField)
		}
		if _, ok := target.columns[rel.ForeignField]; !ok {
			panic("model " + m.name + ": relationship " + relName +
				" uses unknown foreign field " + rel.ForeignField)
		}
		if rel.OrderBy != "" {
			orderField := strings.TrimPrefix(rel.OrderBy, "-")
			if _, ok := target.columns[orderField]; !ok {
				panic("model " + m.name + ": relationship " + relName +
					" orders by unknown foreign field " + orderField)
			}
		}
	}

	if m.defaultSort != "" {
		for _, rule := range strings.Split(m.defaultSort, ",") {
			name := strings.TrimPrefix(rule, "-")
			c, ok := m.columns[name]
			if !ok || !(c.Primary || c.Indexed) {
				panic("model " + m.name + ": default sort key " + name +
					" is not an indexed column")
			}
		}
	}

	for _, cr := range m.customRoutes {
		for _, op := range core.Operations() {
			if cr.name == string(op) && m.hasAutoRoute(op) {
				panic("model " + m.name + ": custom route " + cr.name +
					" collides with a generated route")
			}
		}
	}

	if buildRule(a.prefix, m.routeBasePath(), "") == buildRule(a.prefix, "", "/meta") {
		panic("model " + m.name + ": route base collides with the meta route")
	}
}

// Model returns the registered model with the given name
func (a *API) Model(name string) *Model {
	return a.models[name]
}

// Models returns the registered models in registration order
func (a *API) Models() []*Model {
	models := make([]*Model, 0, len(a.modelOrder))
	for _, name := range a.modelOrder {
		models = append(models, a.models[name])
	}
	return models
}

// Rules returns all installed URL rules in installation order
func (a *API) Rules() []Rule {
	return a.rules
}

// Router returns the router the API was installed on
func (a *API) Router() *mux.Router {
	return a.router
}
