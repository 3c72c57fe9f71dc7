// internal/workers/catalog/query-loan-catalog/handler.go
package queryloancatalog

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"loan-catalog/internal/common/errors"
	"loan-catalog/internal/common/logger"
	"loan-catalog/internal/common/metrics"
	"loan-catalog/internal/models"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/go-playground/validator/v10"
)

const TaskType = "query-loan-catalog"

// Querier reads the merged catalog.
type Querier interface {
	Query(ctx context.Context, req models.QueryRequest) (*models.QueryResult, error)
}

type Handler struct {
	config       *Config
	querier      Querier
	errorHandler *errors.ErrorHandler
	validate     *validator.Validate
	logger       logger.Logger
}

func NewHandler(config *Config, querier Querier, log logger.Logger) (*Handler, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration for %s: %w", TaskType, err)
	}
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:       config,
		querier:      querier,
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
	input.Category = strings.ToLower(strings.TrimSpace(input.Category))
	input.LenderType = strings.ToLower(strings.TrimSpace(input.LenderType))
	if err := h.validate.Struct(input); err != nil {
		return nil, errors.NewInvalidRequestBodyError(err.Error())
	}
	return input, nil
}

// Execute queries the catalog with the job's filters.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	if input == nil {
		return nil, errors.NewInvalidRequestBodyError("input cannot be nil")
	}
	if input.MinAmount != nil && input.MaxAmount != nil && *input.MinAmount > *input.MaxAmount {
		return nil, errors.NewInvalidQueryParameterError("minAmount", "minAmount cannot be greater than maxAmount")
	}

	res, err := h.querier.Query(ctx, models.QueryRequest{
		Sources: input.Sources,
		Filters: models.Filters{
			Country:        input.Country,
			Category:       input.Category,
			LenderType:     input.LenderType,
			MinAmount:      input.MinAmount,
			MaxAmount:      input.MaxAmount,
			CollateralFree: input.CollateralFree,
		},
		ForceRefresh: input.ForceRefresh,
	})
	if err != nil {
		return nil, err
	}

	loans := res.Records
	if input.Limit > 0 && len(loans) > input.Limit {
		loans = loans[:input.Limit]
	}
	return &Output{
		Loans:          loans,
		LoanCount:      len(loans),
		TotalAvailable: res.Meta.AfterFiltering,
		Sources:        res.Sources,
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
	h.logger.Info("query job completed", map[string]interface{}{
		"jobKey":    job.GetKey(),
		"loanCount": output.LoanCount,
	})
}
