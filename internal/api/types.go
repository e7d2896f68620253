package api

import (
	"github.com/samcharles93/mixq/internal/layer"
	"github.com/samcharles93/mixq/internal/target"
	"github.com/samcharles93/mixq/internal/version"
)

type ResponseError struct {
	Message string `json:"message,omitempty"`
	Type    string `json:"type,omitempty"`
}

type TargetResponse struct {
	Object    string       `json:"object"`
	Profile   string       `json:"profile"`
	Core      string       `json:"core"`
	Path      string       `json:"path"`
	BigEndian bool         `json:"big_endian"`
	Engine    string       `json:"engine"`
	Host      target.Host  `json:"host"`
	Version   version.Info `json:"version"`
}

type LayerObject struct {
	Object string      `json:"object"`
	Name   string      `json:"name"`
	Kind   layer.Kind  `json:"kind"`
	In     layer.Shape `json:"in"`
	Out    layer.Shape `json:"out"`
}

type LayerList struct {
	Object  string        `json:"object"`
	Network string        `json:"network"`
	Data    []LayerObject `json:"data"`
}

// RunRequest carries a base64-encoded activation tensor.
type RunRequest struct {
	Input string `json:"input"`
}

type Run struct {
	ID        string      `json:"id"`
	Object    string      `json:"object"`
	CreatedAt int64       `json:"created_at"`
	Status    string      `json:"status"`
	Network   string      `json:"network"`
	Layer     string      `json:"layer,omitempty"`
	Engine    string      `json:"engine"`
	ElapsedUS int64       `json:"elapsed_us"`
	Shape     layer.Shape `json:"shape"`
	Output    string      `json:"output"`
}

type DeleteRunResponse struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Deleted bool   `json:"deleted"`
}
