package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/unklstewy/equinox/pkg/lifecycle"
	"github.com/unklstewy/equinox/pkg/retriever"
	"go.uber.org/zap"
)

// RetrieverStatus describes one retriever.
type RetrieverStatus struct {
	Name     string          `json:"name"`
	State    retriever.State `json:"state"`
	Context  string          `json:"context,omitempty"`
	Repeat   bool            `json:"repeat"`
	Delay    string          `json:"delay,omitempty"`
	Stats    retriever.Stats `json:"stats"`
	Recorded bool            `json:"recorded"`
}

// ContextRequest is the body of PUT /context.
type ContextRequest struct {
	Token string `json:"token" binding:"required"`
	// Reschedule restarts every endpoint under the new token
	Reschedule bool `json:"reschedule"`
}

// ContextResponse is returned by the context endpoints.
type ContextResponse struct {
	Token string `json:"token,omitempty"`
	Set   bool   `json:"set"`
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

// only these events can be driven over HTTP; destroy belongs to shutdown
var lifecycleEvents = map[string]bool{
	"pause":  true,
	"resume": true,
}

func statusOf(r *retriever.Retriever) RetrieverStatus {
	status := RetrieverStatus{
		Name:  r.Name(),
		State: r.State(),
		Stats: r.Stats(),
	}
	if last, ok := r.Last(); ok {
		status.Recorded = true
		status.Context = last.Context.String()
		status.Repeat = last.Repeat
		status.Delay = last.Delay.String()
	}
	return status
}

func (s *Server) lookup(c *gin.Context) (*retriever.Retriever, bool) {
	r, err := s.controller.Manager().Lookup(c.Param("name"))
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error()})
		return nil, false
	}
	return r, true
}

func (s *Server) handleHealth(c *gin.Context) {
	result := s.controller.CheckHealth(c.Request.Context())
	code := http.StatusOK
	if result.IsUnhealthy() {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, result)
}

func (s *Server) handleListRetrievers(c *gin.Context) {
	manager := s.controller.Manager()
	names := manager.Names()
	out := make([]RetrieverStatus, 0, len(names))
	for _, name := range names {
		r, err := manager.Lookup(name)
		if err != nil {
			continue
		}
		out = append(out, statusOf(r))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleGetRetriever(c *gin.Context) {
	r, ok := s.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, statusOf(r))
}

func (s *Server) handleGetResult(c *gin.Context) {
	name := c.Param("name")
	env, ok := s.controller.Result(name)
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "no result for " + name})
		return
	}
	c.JSON(http.StatusOK, env)
}

func (s *Server) handleSuspend(c *gin.Context) {
	r, ok := s.lookup(c)
	if !ok {
		return
	}
	r.Suspend()
	s.logger.Info("Retriever suspended over HTTP", zap.String("retriever", r.Name()))
	c.JSON(http.StatusOK, statusOf(r))
}

func (s *Server) handleRestart(c *gin.Context) {
	r, ok := s.lookup(c)
	if !ok {
		return
	}
	restarted := r.Restart()
	s.logger.Info("Retriever restart requested over HTTP",
		zap.String("retriever", r.Name()),
		zap.Bool("restarted", restarted))
	c.JSON(http.StatusOK, gin.H{"restarted": restarted, "retriever": statusOf(r)})
}

func (s *Server) handleGetContext(c *gin.Context) {
	token, ok := s.controller.Manager().Registry().Current()
	c.JSON(http.StatusOK, ContextResponse{Token: token.String(), Set: ok})
}

func (s *Server) handlePutContext(c *gin.Context) {
	var req ContextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	token := retriever.Token(req.Token)
	if req.Reschedule {
		if err := s.controller.Activate(token); err != nil {
			c.JSON(http.StatusConflict, ErrorResponse{Error: err.Error()})
			return
		}
	} else {
		s.controller.SetActiveContext(token)
	}
	c.JSON(http.StatusOK, ContextResponse{Token: token.String(), Set: true})
}

func (s *Server) handleGetLifecycle(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"state": s.controller.Machine().State(), "time": time.Now().UTC()})
}

func (s *Server) handleLifecycleEvent(c *gin.Context) {
	event := c.Param("event")
	if !lifecycleEvents[event] {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "unsupported lifecycle event " + event})
		return
	}

	machine := s.controller.Machine()
	if err := machine.Fire(event); err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, lifecycle.ErrInvalidTransition) {
			code = http.StatusConflict
		}
		c.JSON(code, ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": machine.State()})
}
