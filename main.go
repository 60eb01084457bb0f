package main

import (
	"fmt"
	"log"

	"github.com/gin-gonic/gin"
	"github.com/spf13/viper"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/Catalyze-Software/multisig-index/internal/db"
	"github.com/Catalyze-Software/multisig-index/internal/handler"
	"github.com/Catalyze-Software/multisig-index/internal/services"
)

type Config struct {
	MySQL struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		DBName   string `mapstructure:"dbname"`
	} `mapstructure:"mysql"`
	Ledger struct {
		URL     string `mapstructure:"url"`
		Account string `mapstructure:"account"` // 本服务的收款账户
		Fee     uint64 `mapstructure:"fee"`     // 转账手续费（e8s），0 取默认值
	} `mapstructure:"ledger"`
	Mint struct {
		URL     string `mapstructure:"url"`
		Account string `mapstructure:"account"` // 铸造服务的收款账户
	} `mapstructure:"mint"`
	Units struct {
		URL        string `mapstructure:"url"`
		Controller string `mapstructure:"controller"` // 新单元的控制账户
	} `mapstructure:"units"`
	Provision struct {
		MinimumCost uint64 `mapstructure:"minimum_cost"` // 最低开通费用（e8s）
		PlatformFee uint64 `mapstructure:"platform_fee"` // 平台抽成（e8s）
		FeeAccount  string `mapstructure:"fee_account"`  // 抽成收款账户
	} `mapstructure:"provision"`
	App struct {
		Port int `mapstructure:"port"`
	} `mapstructure:"app"`
}

func main() {
	// 读取配置
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	if err := viper.ReadInConfig(); err != nil {
		log.Fatal("读取配置失败:", err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		log.Fatal("解析配置失败:", err)
	}

	// 连接 MySQL 并初始化持久层
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		cfg.MySQL.User, cfg.MySQL.Password, cfg.MySQL.Host, cfg.MySQL.Port, cfg.MySQL.DBName)
	dbConn, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal("MySQL 连接失败:", err)
	}

	store := db.NewGormStore(dbConn)
	if err := store.AutoMigrate(); err != nil {
		log.Fatal("表迁移失败:", err)
	}
	fmt.Println("数据库初始化完成")

	// 外部网关客户端
	ledgerSvc, err := services.NewLedgerService()
	if err != nil {
		log.Fatal("账本客户端初始化失败:", err)
	}
	mintSvc, err := services.NewMintService()
	if err != nil {
		log.Fatal("铸造客户端初始化失败:", err)
	}
	unitSvc, err := services.NewUnitService()
	if err != nil {
		log.Fatal("托管客户端初始化失败:", err)
	}

	provisionCfg, err := services.NewProvisionConfig()
	if err != nil {
		log.Fatal("费用配置无效:", err)
	}
	provisionSvc := services.NewProvisionService(
		store, ledgerSvc, mintSvc, unitSvc, provisionCfg)

	// 初始化 Gin
	handler.InitStartTime()
	r := gin.Default()
	handler.RegisterRoutes(r, &handler.Handler{
		Store:     store,
		Provision: provisionSvc,
		Ledger:    ledgerSvc,
	})

	// 启动服务器
	port := fmt.Sprintf(":%d", cfg.App.Port)
	fmt.Printf("服务器启动于端口 %s\n", port)
	if err := r.Run(port); err != nil {
		log.Fatal("Gin 服务器启动失败:", err)
	}
}
