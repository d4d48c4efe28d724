// Basis is the runtime schema engine service.
//
// It serves the administrative model routes and the dynamic record
// routes on a single port. Model definitions live as JSON documents in
// MODELS_DIR and as tables in the configured Postgres schema.
package main

import (
	"context"
	"net/http"
	"os"
	"strings"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/joeshaw/envdecode"
	"github.com/sirupsen/logrus"

	"github.com/lowkey-tech/basis/core/access"
	"github.com/lowkey-tech/basis/core/backend"
	"github.com/lowkey-tech/basis/core/csql"
	"github.com/lowkey-tech/basis/core/logger"
	"github.com/lowkey-tech/basis/core/notifier"
)

// Service holds the configuration for this service
//
// use POSTGRES="host=localhost port=5432 user=postgres password=docker dbname=postgres sslmode=disable"
type Service struct {
	Postgres     string `env:"POSTGRES,required" description:"the connection string for the Postgres DB"`
	ModelsDir    string `env:"MODELS_DIR,default=./models" description:"directory of the durable model definition store"`
	JwtSecret    string `env:"JWT_SECRET,required" description:"HMAC secret for validating bearer tokens"`
	KafkaBrokers string `env:"KAFKA_BROKERS,default=" description:"comma-separated Kafka brokers for lifecycle events, empty disables them"`
	KafkaTopic   string `env:"KAFKA_TOPIC,default=basis-events" description:"Kafka topic for lifecycle events"`
	Port         string `env:"PORT,default=3000" description:"port to listen on"`
	LogLevel     string `env:"LOG_LEVEL,default=info" description:"log level"`
}

func main() {
	service := &Service{}
	if err := envdecode.Decode(service); err != nil {
		panic(err)
	}
	level, err := logrus.ParseLevel(service.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.InitLogger(level)
	rlog := logger.Default()

	db := csql.MustOpenWithSchema(service.Postgres, "basis")
	defer db.Close()

	var events *notifier.KafkaNotifier
	if service.KafkaBrokers != "" {
		events = notifier.MustNewKafka(strings.Split(service.KafkaBrokers, ","), service.KafkaTopic)
		defer events.Close()
	}

	router := mux.NewRouter()
	logger.AddRequestID(router)
	router.Use(access.MustNewJwtMiddleware(&access.JwtMiddlewareBuilder{
		Secret: []byte(service.JwtSecret),
	}))

	builder := &backend.Builder{
		DB:        db,
		Router:    router,
		ModelsDir: service.ModelsDir,
	}
	if events != nil {
		builder.Notifier = events
	}
	b := backend.MustNew(builder)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := b.WatchStore(ctx); err != nil {
		rlog.WithError(err).Fatalln("cannot watch model store")
	}

	handler := handlers.CombinedLoggingHandler(os.Stdout,
		handlers.CORS(
			handlers.AllowedOrigins([]string{"*"}),
			handlers.AllowedMethods([]string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}),
			handlers.AllowedHeaders([]string{"Authorization", "Content-Type"}),
		)(router))

	rlog.Infoln("listen on port :" + service.Port)
	rlog.Fatalln(http.ListenAndServe(":"+service.Port, handler))
}
