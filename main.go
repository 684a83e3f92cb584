package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"BillingApp/app/api"
	"BillingApp/app/config"
	"BillingApp/app/database"
	"BillingApp/app/devdb"
	"BillingApp/app/remotedb"
	"BillingApp/app/security"
	"BillingApp/app/services"
	"BillingApp/app/websocket"

	"github.com/google/uuid"
)

// App holds the running gateway
type App struct {
	Config              *config.AppConfig
	LoggerService       *services.LoggerService
	Connector           *database.Connector
	Journal             *database.LocalDB
	BillService         *services.BillService
	BillNumberService   *services.BillNumberService
	CustomerService     *services.CustomerService
	CompanyService      *services.CompanyService
	UPIQRService        *services.UPIQRService
	AccessService       *services.AccessService
	CompensationWorker  *services.CompensationWorker
	Hub                 *websocket.Hub
	APIServer           *api.Server
	localEndpoint       *http.Server
	localEndpointServer *devdb.Server
}

// startLocalEndpoint serves the query endpoint over an embedded SQLite file
// on a loopback port and points the client options at it
func (a *App) startLocalEndpoint(opts *remotedb.Options) error {
	db, err := devdb.Open(a.Config.Storage.LocalDBPath)
	if err != nil {
		return fmt.Errorf("failed to open local database: %w", err)
	}

	token := uuid.NewString()
	a.localEndpointServer = devdb.NewServer(db, token, a.LoggerService)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		a.localEndpointServer.Close()
		return fmt.Errorf("failed to listen for local endpoint: %w", err)
	}

	a.localEndpoint = &http.Server{Handler: a.localEndpointServer.Handler(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		defer a.LoggerService.RecoverPanic()
		if err := a.localEndpoint.Serve(ln); err != nil && err != http.ErrServerClosed {
			a.LoggerService.LogError("Local query endpoint stopped", err)
		}
	}()

	opts.AccountID = "local"
	opts.DatabaseID = "local"
	opts.APIToken = token
	opts.BaseURL = "http://" + ln.Addr().String()
	a.LoggerService.LogInfo("Local query endpoint started", opts.BaseURL, a.Config.Storage.LocalDBPath)
	return nil
}

// initialize wires every service from the loaded configuration
func (a *App) initialize() error {
	cfg := a.Config
	clientOpts := cfg.ClientOptions()
	clientOpts.Logger = a.LoggerService

	if cfg.Mode == config.ModeLocal {
		if err := a.startLocalEndpoint(&clientOpts); err != nil {
			return err
		}
	}

	connector, err := database.NewConnector(clientOpts, database.ConnectorOptions{
		Seed:             cfg.CompanySeed(),
		BootstrapTimeout: cfg.BootstrapTimeout(),
		Logger:           a.LoggerService,
	})
	if err != nil {
		return err
	}
	a.Connector = connector

	journal, err := database.OpenLocalDB(cfg.Storage.JournalPath)
	if err != nil {
		return fmt.Errorf("failed to open compensation journal: %w", err)
	}
	a.Journal = journal

	access, err := services.NewAccessService(cfg.Server.AccessPIN)
	if err != nil {
		return err
	}
	a.AccessService = access

	policy := services.BillPolicy{
		RequireUniqueNumber: cfg.Bills.RequireUniqueNumber,
		AutoGenerateNumber:  cfg.Bills.AutoGenerateNumber,
	}
	a.BillService = services.NewBillService(connector, journal, a.LoggerService, policy)
	a.BillNumberService = services.NewBillNumberService(connector, a.LoggerService)
	a.CustomerService = services.NewCustomerService(connector, a.LoggerService)
	a.CompanyService = services.NewCompanyService(connector, a.LoggerService)
	a.UPIQRService = services.NewUPIQRService(a.BillService, a.CompanyService)
	a.CompensationWorker = services.NewCompensationWorker(connector, journal, a.LoggerService, cfg.CompensationInterval())

	a.Hub = websocket.NewHub(a.LoggerService)
	a.BillService.SetEvents(a.Hub)

	a.APIServer = api.NewServer(cfg.Server.ListenAddr, connector, api.Services{
		Bills:     a.BillService,
		Numbers:   a.BillNumberService,
		Customers: a.CustomerService,
		Company:   a.CompanyService,
		QR:        a.UPIQRService,
		Access:    access,
	}, a.Hub, a.LoggerService)
	return nil
}

// announce advertises the API via mDNS when enabled
func (a *App) announce() {
	if !a.Config.Server.AnnounceMDNS {
		return
	}
	_, portStr, err := net.SplitHostPort(a.Config.Server.ListenAddr)
	if err != nil {
		a.LoggerService.LogWarning("mDNS: invalid listen address", a.Config.Server.ListenAddr, err.Error())
		return
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		a.LoggerService.LogWarning("mDNS: invalid port", portStr)
		return
	}
	if err := a.Hub.Announce("Billing Gateway", port, []string{"version=1.0", "path=/api"}); err != nil {
		a.LoggerService.LogWarning("mDNS: announcement failed", err.Error())
	}
}

// warmUp bootstraps the schema in the background so the first request
// does not pay for it. A failure here is retried by the next request.
func (a *App) warmUp() {
	defer a.LoggerService.RecoverPanic()
	ctx, cancel := context.WithTimeout(context.Background(), a.Config.BootstrapTimeout())
	defer cancel()
	if _, err := a.Connector.Client(ctx); err != nil {
		a.LoggerService.LogWarning("Initial schema bootstrap failed, will retry on first request", err.Error())
	}
}

// shutdown stops everything in reverse start order
func (a *App) shutdown() {
	a.LoggerService.LogInfo("Application shutting down")

	if a.APIServer != nil {
		if err := a.APIServer.Stop(); err != nil {
			a.LoggerService.LogWarning("API server shutdown error", err.Error())
		}
	}
	if a.Hub != nil {
		a.Hub.Stop()
	}
	if a.CompensationWorker != nil {
		a.CompensationWorker.Stop()
	}
	if a.Journal != nil {
		if status, err := a.Journal.GetStatus(); err == nil && status.Pending+status.Exhausted > 0 {
			a.LoggerService.LogWarning("Compensation journal not empty at shutdown",
				fmt.Sprintf("pending=%d exhausted=%d", status.Pending, status.Exhausted))
		}
		a.Journal.Close()
	}
	if a.localEndpoint != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		a.localEndpoint.Shutdown(ctx)
		cancel()
		a.localEndpointServer.Close()
	}
}

func main() {
	initConfig := flag.Bool("init-config", false, "write a template config file and exit")
	configFile := flag.String("config", "", "path to the JSON config file (default $"+config.EnvConfigFile+" or "+config.DefaultConfigFile+")")
	envFile := flag.String("env", ".env", "dotenv file to load if present")
	flag.Parse()

	keyDir, err := security.DefaultDir()
	if err != nil {
		fmt.Fprintln(os.Stderr, "CRITICAL:", err)
		os.Exit(1)
	}
	keys := security.NewKeyStore(keyDir)

	if *initConfig {
		path := config.ConfigPath(*configFile)
		written, err := config.WriteTemplate(path, keys)
		if err != nil {
			fmt.Fprintln(os.Stderr, "could not write config template:", err)
			os.Exit(1)
		}
		if written {
			fmt.Println("Config template written to", path)
		} else {
			fmt.Println("Config file already exists:", path)
		}
		return
	}

	cfg, err := config.Load(config.LoadOptions{EnvFile: *envFile, ConfigFile: *configFile, Keys: keys})
	if err != nil {
		fmt.Fprintln(os.Stderr, "CRITICAL: could not load configuration:", err)
		os.Exit(1)
	}

	// Initialize logger FIRST to catch all errors
	loggerService := services.NewLoggerService(cfg.Logging.Dir)
	defer loggerService.Close()

	// Recover from any panic and log it
	defer func() {
		if r := recover(); r != nil {
			loggerService.LogPanic(r)
			os.Exit(1)
		}
	}()

	loggerService.LogInfo("Application starting", "Billing gateway", "mode: "+string(cfg.Mode))

	if err := cfg.Validate(); err != nil {
		loggerService.LogError("Invalid configuration", err)
		var cfgErr *remotedb.ConfigError
		if errors.As(err, &cfgErr) && len(cfgErr.Missing) > 0 {
			fmt.Fprintln(os.Stderr, "Set the following environment variables (or run with --init-config):")
			for _, name := range cfgErr.Missing {
				fmt.Fprintln(os.Stderr, "  "+name)
			}
		}
		os.Exit(1)
	}

	if cfg.Logging.RetentionDays > 0 {
		if err := loggerService.CleanOldLogs(cfg.Logging.RetentionDays); err != nil {
			loggerService.LogWarning("Could not clean old logs", err.Error())
		}
	}

	app := &App{Config: cfg, LoggerService: loggerService}
	if err := app.initialize(); err != nil {
		loggerService.LogError("Failed to initialize application", err)
		app.shutdown()
		os.Exit(1)
	}

	app.Hub.Run()
	app.CompensationWorker.Start()
	go app.warmUp()

	serverErr := make(chan error, 1)
	go func() {
		defer loggerService.RecoverPanic()
		serverErr <- app.APIServer.Start()
	}()
	app.announce()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		loggerService.LogInfo("Received signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			loggerService.LogError("API server failed", err)
		}
	}

	app.shutdown()
}
