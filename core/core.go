package core

import (
	"fmt"

	"github.com/goccy/go-json"
)

// Operation represents one of the generated API operations of a model,
// one of Index, Get, Post, Put, Delete, Meta
type Operation string

// all generated operations
const (
	OperationIndex  Operation = "index"
	OperationGet    Operation = "get"
	OperationPost   Operation = "post"
	OperationPut    Operation = "put"
	OperationDelete Operation = "delete"
	OperationMeta   Operation = "meta"
)

// Operations returns all generated operations in their canonical order
func Operations() []Operation {
	return []Operation{OperationIndex, OperationGet, OperationPost,
		OperationPut, OperationDelete, OperationMeta}
}

// UnmarshalJSON is a custom JSON unmarshaller
func (o *Operation) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*o = Operation(s)
	switch *o {
	case OperationIndex, OperationGet, OperationPost, OperationPut, OperationDelete, OperationMeta:
		return nil
	default:
		return fmt.Errorf("%s is not valid Operation", s)
	}
}

// Notifier is an interface to receive change notifications for
// committed write operations
type Notifier interface {
	Notify(model string, operation Operation, payload []byte)
}
