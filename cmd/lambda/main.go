package main

import (
	"context"
	"os"
	"path/filepath"

	"github.com/aws/aws-lambda-go/lambda"

	"vpc-mesh/pkg/app"
	"vpc-mesh/pkg/config"
	"vpc-mesh/pkg/model"
	"vpc-mesh/pkg/store"
)

// lambdaDir is the only writable directory of the Lambda runtime.
const lambdaDir = "/tmp"

// MeshEvent is the invocation payload. Empty fields keep the configured values.
type MeshEvent struct {
	Regions         []string `json:"regions,omitempty"`
	FailFast        *bool    `json:"failFast,omitempty"`
	EdgeConcurrency *int     `json:"edgeConcurrency,omitempty"`
}

// MeshResponse is returned to the caller.
type MeshResponse struct {
	StatusCode int              `json:"statusCode"`
	Success    bool             `json:"success"`
	Error      string           `json:"error,omitempty"`
	Report     *model.RunReport `json:"report,omitempty"`
}

type handler struct {
	load func() (config.Config, error)
}

func (h handler) handle(ctx context.Context, event MeshEvent) (MeshResponse, error) {
	cfg, err := h.load()
	if err != nil {
		return MeshResponse{StatusCode: 500, Error: "config: " + err.Error()}, nil
	}
	if len(event.Regions) > 0 {
		cfg.Regions = event.Regions
	}
	if event.FailFast != nil {
		cfg.Mesh.FailFast = *event.FailFast
	}
	if event.EdgeConcurrency != nil {
		cfg.Mesh.EdgeConcurrency = *event.EdgeConcurrency
	}
	if err := config.Validate(cfg); err != nil {
		return MeshResponse{StatusCode: 400, Error: err.Error()}, nil
	}

	a, err := app.New(ctx, cfg, os.Stdout)
	if err != nil {
		return MeshResponse{StatusCode: 500, Error: err.Error()}, nil
	}
	defer a.Close()

	report, err := a.Orchestrator().Run(ctx, cfg.Regions)
	out := MeshResponse{StatusCode: 200, Success: err == nil, Report: &report}
	if err != nil {
		out.Error = err.Error()
		if len(report.Snapshot.Networks) == 0 {
			out.StatusCode = 500
		}
	}
	return out, nil
}

// loadConfig reads MESH_CONFIG (if set) and the environment, logging as JSON and keeping local
// state under the writable directory.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(os.Getenv("MESH_CONFIG"))
	if err != nil {
		return config.Config{}, err
	}
	cfg.Log.Format = "json"
	if cfg.Store.Kind == store.KindFile && !filepath.IsAbs(cfg.Store.Path) {
		cfg.Store.Path = filepath.Join(lambdaDir, cfg.Store.Path)
	}
	if !filepath.IsAbs(cfg.Journal.Path) {
		cfg.Journal.Path = filepath.Join(lambdaDir, cfg.Journal.Path)
	}
	return cfg, nil
}

func main() {
	lambda.Start(handler{load: loadConfig}.handle)
}
