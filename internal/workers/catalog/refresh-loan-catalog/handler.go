// internal/workers/catalog/refresh-loan-catalog/handler.go
package refreshloancatalog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"loan-catalog/internal/common/errors"
	"loan-catalog/internal/common/logger"
	"loan-catalog/internal/common/metrics"
	"loan-catalog/internal/pipeline"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/go-playground/validator/v10"
)

const TaskType = "refresh-loan-catalog"

// Refresher runs a catalog refresh.
type Refresher interface {
	Refresh(ctx context.Context, req pipeline.RefreshRequest) (*pipeline.RefreshOutcome, error)
}

type Handler struct {
	config       *Config
	refresher    Refresher
	errorHandler *errors.ErrorHandler
	validate     *validator.Validate
	logger       logger.Logger
}

func NewHandler(config *Config, refresher Refresher, log logger.Logger) (*Handler, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration for %s: %w", TaskType, err)
	}
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:       config,
		refresher:    refresher,
		errorHandler: errors.NewErrorHandler(log),
		validate:     validator.New(),
		logger:       log,
	}, nil
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":             job.GetKey(),
		"processInstanceKey": job.GetProcessInstanceKey(),
	})

	input, err := h.parseInput(job)
	if err == nil {
		var output *Output
		output, err = h.Execute(ctx, input)
		if err == nil {
			h.completeJob(ctx, client, job, output)
			metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
			metrics.WorkerJobDuration.WithLabelValues(TaskType).Observe(time.Since(start).Seconds())
			return
		}
	}

	metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(errors.Normalize(err).Code)).Inc()
	h.errorHandler.HandleJobError(ctx, client, job, err)
}

func (h *Handler) parseInput(job entities.Job) (*Input, error) {
	input := &Input{}
	if vars := job.GetVariables(); vars != "" {
		if err := json.Unmarshal([]byte(vars), input); err != nil {
			return nil, errors.NewInputParsingFailedError(err)
		}
	}
	if err := h.validate.Struct(input); err != nil {
		return nil, errors.NewInvalidRequestBodyError(err.Error())
	}
	return input, nil
}

// Execute runs the refresh described by input.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	if input == nil {
		return nil, errors.NewInvalidRequestBodyError("input cannot be nil")
	}

	out, err := h.refresher.Refresh(ctx, pipeline.RefreshRequest{
		Source:     input.Source,
		ClearCache: input.ClearCache,
		Job:        input.Job,
	})
	if err != nil {
		return nil, err
	}

	return &Output{
		Refreshed:  out.Refreshed,
		Validation: out.Validation,
		PerSource:  out.PerSource,
		Failed:     out.Failed,
		Job:        out.Job,
		Triggered:  out.Triggered,
	}, nil
}

func (h *Handler) completeJob(ctx context.Context, client worker.JobClient, job entities.Job, output *Output) {
	cmd, err := client.NewCompleteJobCommand().
		JobKey(job.GetKey()).
		VariablesFromObject(output)
	if err != nil {
		h.logger.Error("failed to create complete job command", map[string]interface{}{
			"jobKey": job.GetKey(),
			"error":  err.Error(),
		})
		return
	}
	if _, err := cmd.Send(ctx); err != nil {
		h.logger.Error("failed to send complete job command", map[string]interface{}{
			"jobKey": job.GetKey(),
			"error":  err.Error(),
		})
		return
	}
	h.logger.Info("refresh job completed", map[string]interface{}{
		"jobKey":    job.GetKey(),
		"refreshed": output.Refreshed,
		"triggered": output.Triggered,
	})
}
