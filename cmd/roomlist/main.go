package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/getsentry/sentry-go"

	roomlist "github.com/matrix-org/roomlist"
	"github.com/matrix-org/roomlist/internal"
	"github.com/matrix-org/roomlist/sync2"
)

var GitCommit string // set by build scripts

const version = "0.1.0"

var (
	flagDestinationServer = flag.String("server", "", "The sync v2 server to poll for room updates (optional)")
	flagUserID            = flag.String("user", "", "The user whose room lists to maintain")
	flagAccessToken       = flag.String("token", "", "Access token for the user (or set ROOMLIST_ACCESS_TOKEN)")
	flagBindAddr          = flag.String("port", ":8009", "Bind address")
	flagPostgres          = flag.String("db", "user=postgres dbname=roomlist sslmode=disable", "Postgres DB connection string (see lib/pq docs)")
	flagPrometheus        = flag.Bool("prometheus", true, "Expose engine metrics on /metrics")
)

func main() {
	fmt.Printf("roomlist %s (%s)\n", version, GitCommit)
	sync2.Version = fmt.Sprintf("%s (%s)", version, GitCommit)
	flag.Parse()

	accessToken := *flagAccessToken
	if accessToken == "" {
		accessToken = os.Getenv("ROOMLIST_ACCESS_TOKEN")
	}
	if *flagDestinationServer != "" && (*flagUserID == "" || accessToken == "") {
		fmt.Fprintln(os.Stderr, "-server requires -user and an access token")
		flag.Usage()
		os.Exit(1)
	}

	if dsn := os.Getenv("ROOMLIST_SENTRY_DSN"); dsn != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:     dsn,
			Release: version,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to initialise sentry: %s\n", err)
			os.Exit(1)
		}
		defer sentry.Flush(2 * time.Second)
	}

	if otlpURL := os.Getenv("ROOMLIST_OTLP_URL"); otlpURL != "" {
		err := internal.ConfigureOTLP(
			otlpURL,
			os.Getenv("ROOMLIST_OTLP_USERNAME"),
			os.Getenv("ROOMLIST_OTLP_PASSWORD"),
			version,
		)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to configure OTLP: %s\n", err)
			os.Exit(1)
		}
	}

	roomlist.RunRoomListServer(roomlist.Opts{
		BindAddr:          *flagBindAddr,
		PostgresURI:       *flagPostgres,
		DestinationServer: *flagDestinationServer,
		UserID:            *flagUserID,
		AccessToken:       accessToken,
		EnablePrometheus:  *flagPrometheus,
	})
}
