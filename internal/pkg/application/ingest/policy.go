package ingest

import (
	"context"
	"fmt"
	"io"

	"github.com/diwise/sensorthings-sync/pkg/sensorthings/errors"
	"github.com/diwise/sensorthings-sync/pkg/sensorthings/types"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"
	"github.com/open-policy-agent/opa/rego"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// WritePolicy decides whether an entity may be written to a destination
type WritePolicy interface {
	CheckWrite(ctx context.Context, request WriteRequest) error
}

type WriteRequest struct {
	Kind        types.Kind
	Name        string
	Destination string
	Count       int
}

type regoPolicy struct {
	preparedQuery rego.PreparedEvalQuery
}

// NewWritePolicy compiles a rego module that defines data.sensorthings.write.allow
func NewWritePolicy(ctx context.Context, policies io.Reader) (WritePolicy, error) {

	module, err := io.ReadAll(policies)
	if err != nil {
		return nil, fmt.Errorf("unable to read write policies: %s", err.Error())
	}

	p := &regoPolicy{}

	p.preparedQuery, err = rego.New(
		rego.Query("x = data.sensorthings.write.allow"),
		rego.Module("write.rego", string(module)),
	).PrepareForEval(ctx)

	if err != nil {
		return nil, err
	}

	return p, nil
}

func (p *regoPolicy) CheckWrite(ctx context.Context, request WriteRequest) error {
	var err error

	ctx, span := tracer.Start(ctx, "check-write",
		trace.WithAttributes(attribute.String("entity-kind", request.Kind.String())),
	)
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	input := map[string]any{
		"kind":        request.Kind.String(),
		"name":        request.Name,
		"destination": request.Destination,
		"count":       request.Count,
	}

	results, err := p.preparedQuery.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		err = fmt.Errorf("opa eval failed: %w", err)
		return err
	}

	if len(results) == 0 {
		err = errors.NewPolicyDeniedError(fmt.Sprintf("no write policy decision for %s %q", request.Kind, request.Name))
		return err
	}

	binding := results[0].Bindings["x"]

	// a policy may answer with a plain decision or with a decision object
	switch decision := binding.(type) {
	case bool:
		if !decision {
			err = errors.NewPolicyDeniedError(fmt.Sprintf("write of %s %q denied by policy", request.Kind, request.Name))
			return err
		}
	case map[string]any:
	default:
		err = fmt.Errorf("opa error: unexpected result type %T", binding)
		return err
	}

	return nil
}

type allowAll struct{}

func (allowAll) CheckWrite(context.Context, WriteRequest) error {
	return nil
}
