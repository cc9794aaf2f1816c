// Package transports imports every built-in transport so that each registers
// itself with the default registry.
package transports

import (
	_ "github.com/drblury/datumflow/transport/aws"
	_ "github.com/drblury/datumflow/transport/channel"
	_ "github.com/drblury/datumflow/transport/http"
	_ "github.com/drblury/datumflow/transport/kafka"
	_ "github.com/drblury/datumflow/transport/nats"
	_ "github.com/drblury/datumflow/transport/rabbitmq"
)
