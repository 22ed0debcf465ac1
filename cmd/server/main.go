// Package main 是应用程序的入口点。
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"medassist-go/internal/config"
	"medassist-go/internal/connector"
	"medassist-go/internal/handler"
	"medassist-go/internal/index"
	"medassist-go/internal/middleware"
	"medassist-go/internal/model"
	"medassist-go/internal/pipeline"
	"medassist-go/internal/repository"
	"medassist-go/internal/service"
	"medassist-go/pkg/database"
	"medassist-go/pkg/embedding"
	"medassist-go/pkg/es"
	"medassist-go/pkg/kafka"
	"medassist-go/pkg/llm"
	"medassist-go/pkg/log"
	"medassist-go/pkg/storage"
	"medassist-go/pkg/tika"
	"medassist-go/pkg/token"
)

func main() {
	configPath := "./configs/config.yaml"
	if p := os.Getenv("MEDASSIST_CONFIG"); p != "" {
		configPath = p
	}

	// 1. 初始化配置
	config.Init(configPath)
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync()
	log.Info("日志记录器初始化成功")

	// 3. 初始化数据库和 Redis
	database.InitDB(cfg.Database)
	if err := database.DB.AutoMigrate(&model.Appointment{}, &model.KnowledgeItem{}); err != nil {
		log.Fatal("数据库迁移失败", err)
	}
	database.InitRedis(cfg.Database.Redis)

	// 4. 初始化 Repository
	appointmentRepo := repository.NewAppointmentRepository(database.DB)
	knowledgeRepo := repository.NewKnowledgeRepository(database.DB)
	conversationRepo := repository.NewConversationRepository(database.RDB)

	// 5. 初始化模型客户端
	embeddingClient, modelVersion := newEmbeddingClient(cfg.Embedding)
	llmClient := llm.NewClient(cfg.LLM)

	// 6. 初始化 Service (依赖注入)
	var extractor service.IntentExtractor = service.NewKeywordIntentExtractor()
	if cfg.Parser.Mode == "llm" {
		extractor = service.NewLLMIntentExtractor(llmClient, cfg.Parser.MaxReasks)
	}
	parserService := service.NewParserService(extractor)

	knowledgeOpts := service.KnowledgeOptions{
		DefaultTopK:  cfg.Knowledge.DefaultTopK,
		MaxTopK:      cfg.Knowledge.MaxTopK,
		ModelVersion: modelVersion,
	}
	if cfg.Elasticsearch.Enabled {
		store, err := es.InitES(cfg.Elasticsearch, cfg.Embedding.Dimensions)
		if err != nil {
			log.Fatal("Elasticsearch 初始化失败", err)
		}
		knowledgeOpts.Mirror = store
		if cfg.Knowledge.IndexBackend == "elasticsearch" {
			knowledgeOpts.Searcher = index.NewElasticsearchIndex(store, cfg.Embedding.Dimensions)
		}
	}
	knowledgeService := service.NewKnowledgeService(embeddingClient, knowledgeRepo, index.NewHolder(), knowledgeOpts)

	bookingService := service.NewBookingService(appointmentRepo, service.BookingOptions{
		DefaultDoctor: cfg.Booking.DefaultDoctor,
		DefaultUser:   cfg.Booking.DefaultUser,
		SlotMinutes:   cfg.Booking.SlotMinutes,
		WorkingHours:  cfg.Booking.WorkingHours,
	})

	var jwtManager *token.JWTManager
	var tokens connector.TokenSource
	if cfg.Auth.ServiceSecret != "" {
		jwtManager = token.NewJWTManager(cfg.Auth.ServiceSecret, cfg.Auth.ServiceName, cfg.Auth.TokenTTLMinutes)
		tokens = jwtManager
	} else {
		log.Warnf("auth.service_secret 未配置, agent 路由不校验服务令牌")
	}
	connOpts := connector.FromConfig(cfg.Connector, tokens)
	log.Infof("Tool Connector: %s", connector.Describe(connOpts))
	conn := connector.NewHTTPConnector(connOpts)

	conversationService := service.NewConversationService(conversationRepo)
	orchestrator := service.NewOrchestratorService(
		service.NewPlanner(nil, cfg.Knowledge.DefaultTopK),
		conn,
		llmClient,
		conversationService,
		service.OrchestratorOptions{
			RequestTimeout:  cfg.Orchestrator.RequestTimeout,
			StepTimeout:     cfg.Orchestrator.StepTimeout,
			MaxHistoryTurns: cfg.Orchestrator.MaxHistoryTurns,
		},
	)
	chatService := service.NewChatService(orchestrator)

	// 7. 初始化语料：表为空时从种子文件导入
	seedCtx, cancelSeed := context.WithTimeout(context.Background(), 5*time.Minute)
	if n, err := knowledgeService.SeedFromFile(seedCtx, cfg.Knowledge.SeedFile); err != nil {
		log.Errorf("初始化知识库失败: %v", err)
	} else {
		log.Infof("知识库就绪, 共 %d 个条目", n)
	}
	cancelSeed()

	// 8. 知识导入流水线：MinIO 保存上传文件，Kafka 投递任务（未启用时进程内处理）
	bgCtx, cancelBg := context.WithCancel(context.Background())
	defer cancelBg()

	var ingestService service.IngestService
	if cfg.MinIO.Enabled {
		objects := storage.InitMinIO(cfg.MinIO)
		var textExtractor pipeline.TextExtractor
		if cfg.Tika.ServerURL != "" {
			textExtractor = tika.NewClient(cfg.Tika)
		}
		processor := pipeline.NewProcessor(objects, textExtractor, knowledgeService)

		var publisher service.TaskPublisher
		if cfg.Kafka.Enabled {
			kafka.InitProducer(cfg.Kafka)
			defer kafka.CloseProducer()
			publisher = kafka.Publisher{}
			go kafka.StartConsumer(bgCtx, cfg.Kafka, processor, kafka.NewRedisAttempts(database.RDB))
		} else {
			publisher = pipeline.NewInlinePublisher(processor, 0)
		}
		ingestService = service.NewIngestService(objects, publisher)
	} else {
		log.Info("MinIO 未启用, 知识导入接口不可用")
	}

	refresher, err := pipeline.NewRefresher(cfg.Knowledge.RefreshSpec, knowledgeService)
	if err != nil {
		log.Fatal("注册索引刷新任务失败", err)
	}
	if refresher != nil {
		refresher.Start()
		defer refresher.Stop()
	}

	// 9. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(middleware.RequestLogger(), gin.Recovery())

	agentHandler := handler.NewAgentHandler(parserService, knowledgeService, bookingService)
	knowledgeHandler := handler.NewKnowledgeHandler(ingestService, knowledgeService)

	// 10. 注册路由
	apiV1 := r.Group("/api/v1")
	{
		agents := apiV1.Group("/agents")
		agents.Use(middleware.ServiceAuth(jwtManager))
		{
			agents.POST("/parser", agentHandler.Parse)
			agents.POST("/knowledge", agentHandler.Retrieve)
			agents.POST("/booking", agentHandler.Booking)
		}

		apiV1.POST("/orchestrate", handler.NewOrchestrateHandler(orchestrator).Orchestrate)
		apiV1.GET("/chat/ws", handler.NewChatHandler(chatService).Handle)

		knowledge := apiV1.Group("/knowledge")
		{
			knowledge.POST("/ingest", knowledgeHandler.Ingest)
			knowledge.POST("/reload", knowledgeHandler.Reload)
		}
	}

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}
	// 停止 Kafka 消费者
	cancelBg()
	log.Info("服务已优雅关闭")
}

// newEmbeddingClient 按配置创建 embedding 客户端并套上缓存，返回客户端与写入条目的模型版本。
func newEmbeddingClient(cfg config.EmbeddingConfig) (embedding.Client, string) {
	client := embedding.NewClient(cfg)
	modelVersion := cfg.Model
	if cfg.Provider == "hash" {
		modelVersion = fmt.Sprintf("hash-%d", cfg.Dimensions)
	}

	switch cfg.Cache {
	case "redis":
		return embedding.NewCachedClient(client, embedding.NewRedisCache(database.RDB), modelVersion), modelVersion
	case "memory":
		return embedding.NewCachedClient(client, embedding.NewMemoryCache(), modelVersion), modelVersion
	default:
		return client, modelVersion
	}
}
