// Package api serves a loaded network over HTTP.
package api

import (
	"encoding/base64"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"

	"github.com/samcharles93/mixq/internal/kernels"
	"github.com/samcharles93/mixq/internal/layer"
	"github.com/samcharles93/mixq/internal/logger"
	"github.com/samcharles93/mixq/internal/network"
	"github.com/samcharles93/mixq/internal/target"
	"github.com/samcharles93/mixq/internal/version"
)

type Server struct {
	net     *network.Network
	engine  kernels.Engine
	profile target.Profile
	host    target.Host
	store   *RunStore
	clock   func() time.Time
}

// NewServer serves net on the engine selected for profile.
func NewServer(net *network.Network, profile target.Profile, store *RunStore) *Server {
	if store == nil {
		store = NewRunStore()
	}
	return &Server{
		net:     net,
		engine:  kernels.New(profile.Path),
		profile: profile,
		host:    target.DetectHost(),
		store:   store,
		clock:   time.Now,
	}
}

func (s *Server) Register(e *echo.Echo) {
	e.GET("/v1/target", s.handleTarget)
	e.GET("/v1/layers", s.handleListLayers)
	e.POST("/v1/layers/:name/runs", s.handleRunLayer)

	e.POST("/v1/runs", s.handleRunNetwork)
	e.GET("/v1/runs/:id", s.handleGetRun)
	e.DELETE("/v1/runs/:id", s.handleDeleteRun)
}

func (s *Server) handleTarget(c *echo.Context) error {
	return c.JSON(http.StatusOK, TargetResponse{
		Object:    "target",
		Profile:   s.profile.String(),
		Core:      s.profile.Core.String(),
		Path:      s.profile.Path.String(),
		BigEndian: s.profile.BigEndian,
		Engine:    s.engine.Name(),
		Host:      s.host,
		Version:   version.Resolve(),
	})
}

func (s *Server) handleListLayers(c *echo.Context) error {
	layers := s.net.Layers()
	out := LayerList{Object: "list", Network: s.net.Name, Data: make([]LayerObject, 0, len(layers))}
	for _, l := range layers {
		out.Data = append(out.Data, layerObject(l))
	}
	return c.JSON(http.StatusOK, out)
}

func layerObject(l layer.Layer) LayerObject {
	return LayerObject{Object: "layer", Name: l.Name(), Kind: l.Kind(), In: l.In(), Out: l.Out()}
}

func (s *Server) handleRunLayer(c *echo.Context) error {
	name := c.Param("name")
	l, ok := s.net.Layer(name)
	if !ok {
		return writeNotFound(c, "layer not found: "+name)
	}
	input, err := decodeInput(c)
	if err != nil {
		return writeRunError(c, err)
	}

	start := s.clock()
	out, err := s.net.RunLayer(c.Request().Context(), s.engine, name, input)
	if err != nil {
		return writeRunError(c, err)
	}
	run := s.store.Create(s.completed(start, name, l.Out(), out))
	return c.JSON(http.StatusOK, run)
}

func (s *Server) handleRunNetwork(c *echo.Context) error {
	input, err := decodeInput(c)
	if err != nil {
		return writeRunError(c, err)
	}

	start := s.clock()
	out, err := s.net.Run(c.Request().Context(), s.engine, input)
	if err != nil {
		return writeRunError(c, err)
	}
	run := s.store.Create(s.completed(start, "", s.net.Out(), out))
	logger.FromContext(c.Request().Context()).Debug("run stored", "id", run.ID, "elapsed_us", run.ElapsedUS)
	return c.JSON(http.StatusOK, run)
}

func (s *Server) completed(start time.Time, layerName string, shape layer.Shape, out []byte) Run {
	now := s.clock()
	return Run{
		CreatedAt: now.Unix(),
		Status:    "completed",
		Network:   s.net.Name,
		Layer:     layerName,
		Engine:    s.engine.Name(),
		ElapsedUS: now.Sub(start).Microseconds(),
		Shape:     shape,
		Output:    base64.StdEncoding.EncodeToString(out),
	}
}

func decodeInput(c *echo.Context) ([]byte, error) {
	req, err := decodeJSON[RunRequest](c.Request().Body)
	if err != nil {
		return nil, err
	}
	if req.Input == "" {
		return nil, newInvalidRequest("input is required")
	}
	input, err := base64.StdEncoding.DecodeString(req.Input)
	if err != nil {
		return nil, newInvalidRequest("input is not valid base64: " + err.Error())
	}
	return input, nil
}

func (s *Server) handleGetRun(c *echo.Context) error {
	id := c.Param("id")
	run, ok := s.store.Get(id)
	if !ok {
		return writeNotFound(c, "run not found: "+id)
	}
	return c.JSON(http.StatusOK, run)
}

func (s *Server) handleDeleteRun(c *echo.Context) error {
	id := c.Param("id")
	if !s.store.Delete(id) {
		return writeNotFound(c, "run not found: "+id)
	}
	return c.JSON(http.StatusOK, DeleteRunResponse{
		ID:      id,
		Object:  "run.deleted",
		Deleted: true,
	})
}
