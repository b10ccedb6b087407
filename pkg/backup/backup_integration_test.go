//go:build integration

package backup

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/marmos91/rfidgate/pkg/idstate"
)

// startLocalstack starts a Localstack container or reuses LOCALSTACK_ENDPOINT.
func startLocalstack(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	if endpoint := os.Getenv("LOCALSTACK_ENDPOINT"); endpoint != "" {
		return endpoint
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "localstack/localstack:3.0",
			ExposedPorts: []string{"4566/tcp"},
			Env: map[string]string{
				"SERVICES":              "s3",
				"DEFAULT_REGION":        "us-east-1",
				"EAGER_SERVICE_LOADING": "1",
			},
			WaitingFor: wait.ForAll(
				wait.ForListeningPort("4566/tcp"),
				wait.ForHTTP("/_localstack/health").
					WithPort("4566/tcp").
					WithStartupTimeout(60*time.Second),
			),
		},
		Started: true,
	})
	require.NoError(t, err, "failed to start localstack container")
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "4566")
	require.NoError(t, err)

	return fmt.Sprintf("http://%s:%s", host, port.Port())
}

func TestRunAgainstLocalstack(t *testing.T) {
	ctx := context.Background()
	endpoint := startLocalstack(t)

	cfg := Config{
		Bucket:          fmt.Sprintf("rfidgate-backup-%d", time.Now().UnixNano()),
		Region:          "us-east-1",
		Endpoint:        endpoint,
		Prefix:          "site-a/",
		ForcePathStyle:  true,
		AccessKeyID:     "test",
		SecretAccessKey: "test",
	}

	uploader, err := NewFromConfig(ctx, cfg)
	require.NoError(t, err)

	client := uploader.client.(*s3.Client)
	_, err = client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(cfg.Bucket)})
	require.NoError(t, err)

	logPath := filepath.Join(t.TempDir(), "rfid_operations.log")
	require.NoError(t, os.WriteFile(logPath, []byte("2026-03-01 09:30:00 - UID: 04A1\n"), 0644))

	report, err := uploader.Run(ctx, Plan{
		State: idstate.State{NextID: 3, UsedIDs: []uint64{1, 2}},
		Files: []string{logPath},
	})
	require.NoError(t, err)
	require.Len(t, report.Keys, 2)

	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(cfg.Bucket),
		Key:    aws.String(report.Keys[0]),
	})
	require.NoError(t, err)
	defer func() { _ = out.Body.Close() }()

	body, err := io.ReadAll(out.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"next_id":3,"used_ids":[1,2]}`, string(body))
}
