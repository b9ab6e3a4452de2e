package bot

import (
	"context"
	"fmt"
	"io"
	"log"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestMessageBodies(t *testing.T) {
	htmlBody, textBody := messageBodies("🎉 <b>Slots</b>\n📅 <b>08/18(Mon)</b>\n<a href='https://example.com'>Book</a>")
	require.Equal(t, "🎉 <b>Slots</b><br>\n📅 <b>08/18(Mon)</b><br>\n<a href='https://example.com'>Book</a>", htmlBody)
	require.Equal(t, "🎉 Slots\n📅 08/18(Mon)\nBook", textBody)
}

func setupSmtp(t *testing.T) (host string, smtpPort int, webURL string) {
	t.Helper()
	if testing.Short() {
		t.Skip("fake smtp server needs docker")
	}

	// suppress logging
	testcontainers.Logger = log.New(io.Discard, "", 0)

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(
		ctx,
		testcontainers.GenericContainerRequest{
			Started: true,
			ContainerRequest: testcontainers.ContainerRequest{
				Image:        "haravich/fake-smtp-server",
				ExposedPorts: []string{"1025/tcp", "1080/tcp"},
				WaitingFor:   wait.ForLog("smtp://0.0.0.0:1025"),
			},
		},
	)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		err := container.Terminate(context.Background())
		if err != nil {
			t.Fatal(err)
		}
	})

	host, err = container.Host(ctx)
	require.NoError(t, err)
	smtp, err := container.MappedPort(ctx, "1025/tcp")
	require.NoError(t, err)
	web, err := container.MappedPort(ctx, "1080/tcp")
	require.NoError(t, err)

	return host, smtp.Int(), fmt.Sprintf("http://%s:%s", host, web.Port())
}

func TestEmailNotifier(t *testing.T) {
	host, port, webURL := setupSmtp(t)

	notifier := NewEmailNotifier(SmtpConfig{
		Server:       host,
		Port:         port,
		EmailAddress: "bot@samezu.test",
		Password:     "default",
		Recipients:   []string{"taro@samezu.test"},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := notifier.Notify(ctx, "🎉 <b>Available Reservation Slots Found!</b>\n📅 <b>08/18(Mon)</b>")
	require.NoError(t, err)

	res, err := resty.New().R().
		SetContext(ctx).
		Get(webURL + "/messages/1.plain")
	require.NoError(t, err)
	require.Contains(t, res.String(), "08/18(Mon)")
}
