//go:build linux

package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/v4l2queue/internal/api/models"
)

func (s *Server) registerStreamRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "stream-status",
		Method:      http.MethodGet,
		Path:        "/api/stream",
		Summary:     "Stream Status",
		Description: "Buffer queue state and frame counters of the running stream",
		Tags:        []string{"stream"},
		Security:    withAuth(),
		Errors:      []int{401, 404},
	}, func(ctx context.Context, input *struct{}) (*models.StreamStatusResponse, error) {
		if s.options.Status == nil {
			return nil, huma.Error404NotFound("No stream configured")
		}
		return &models.StreamStatusResponse{Body: s.options.Status()}, nil
	})
}
