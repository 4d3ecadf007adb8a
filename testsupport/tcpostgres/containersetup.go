package tcpostgres

import (
	"context"
	"fmt"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	containerName = "simcoach-test"
	dbUser        = "postgres"
	dbPassword    = "password"
	dbName        = "telemetry"
)

var pgPort = nat.Port("5432/tcp")

// startTelemetryDB starts (or reuses) the postgres container backing the sink
// tests and returns its connection url.
func startTelemetryDB(ctx context.Context) (string, error) {
	container, err := testcontainers.GenericContainer(ctx,
		testcontainers.GenericContainerRequest{
			ContainerRequest: testcontainers.ContainerRequest{
				Name:         containerName,
				Image:        "postgres:16",
				ExposedPorts: []string{string(pgPort)},
				Cmd:          []string{"postgres", "-c", "fsync=off"},
				Env: map[string]string{
					"POSTGRES_USER":     dbUser,
					"POSTGRES_PASSWORD": dbPassword,
					"POSTGRES_DB":       dbName,
				},
				WaitingFor: wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30 * time.Second),
			},
			Started: true,
			Reuse:   true,
		})
	if err != nil {
		return "", err
	}
	mapped, err := container.MappedPort(ctx, pgPort)
	if err != nil {
		return "", err
	}
	host, err := container.Host(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("postgresql://%s:%s@%s:%s/%s?sslmode=disable",
		dbUser, dbPassword, host, mapped.Port(), dbName), nil
}
