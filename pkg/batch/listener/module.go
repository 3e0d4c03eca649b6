// Package listener aggregates the listener packages of the batch framework.
package listener

import (
	"go.uber.org/fx"

	"github.com/tigerroll/batchflow/pkg/batch/listener/exitstatus"
	"github.com/tigerroll/batchflow/pkg/batch/listener/logging"
	"github.com/tigerroll/batchflow/pkg/batch/listener/notification"
)

// Module registers the logging, exit status and notification listeners with the JSL
// registry. The promotion listener is attached by the job factory from the
// execution-context-promotion section of a step.
var Module = fx.Options(
	logging.Module,
	exitstatus.Module,
	notification.Module,
)
