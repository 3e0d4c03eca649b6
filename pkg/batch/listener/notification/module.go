package notification

import (
	"go.uber.org/fx"

	port "github.com/tigerroll/batchflow/pkg/batch/core/application/port"
	jsl "github.com/tigerroll/batchflow/pkg/batch/core/config/jsl"
	"github.com/tigerroll/batchflow/pkg/batch/support/util/configbinder"
	logger "github.com/tigerroll/batchflow/pkg/batch/support/util/logger"
)

// NotificationListenerRef is the listener name referenced in job definitions.
const NotificationListenerRef = "notificationJobListener"

// listenerProperties are the JSL properties of the notification listener.
type listenerProperties struct {
	OnlyOnFailure bool `yaml:"only-on-failure"`
}

// NewNotificationJobListenerBuilder creates a builder for NotificationListener.
func NewNotificationJobListenerBuilder(notifier Notifier) jsl.JobListenerBuilder {
	return func(properties map[string]string) (port.JobExecutionListener, error) {
		var props listenerProperties
		if err := configbinder.BindStringProperties(properties, &props); err != nil {
			return nil, err
		}
		return NewNotificationListener(notifier, props.OnlyOnFailure), nil
	}
}

// NotificationListenerParams defines the dependencies that RegisterNotificationListener receives from Fx.
type NotificationListenerParams struct {
	fx.In
	Registry *jsl.Registry
	Builder  jsl.JobListenerBuilder `name:"notificationJobListener"`
}

// RegisterNotificationListener registers the notification listener builder.
func RegisterNotificationListener(p NotificationListenerParams) {
	p.Registry.RegisterJobListener(NotificationListenerRef, p.Builder)
	logger.Debugf("Notification listener registered.")
}

// Module provides the log notifier and registers the notification listener. Applications
// replace the notifier with fx.Decorate.
var Module = fx.Options(
	fx.Provide(fx.Annotate(
		NewLogNotifier,
		fx.As(new(Notifier)),
	)),
	fx.Provide(fx.Annotate(NewNotificationJobListenerBuilder, fx.ResultTags(`name:"notificationJobListener"`))),
	fx.Invoke(RegisterNotificationListener),
)
