package main

import (
	"complyhub/internal/config"
	"complyhub/internal/store"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"gorm.io/gorm/logger"
)

func main() {
	// 读取 .env 与 ./config.yml
	_ = godotenv.Load()
	viper.AddConfigPath(".")
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	config.BindEnv(viper.GetViper())
	_ = viper.ReadInConfig()

	cfg := config.Load()
	if err := config.InitLogger(cfg); err != nil {
		logrus.Warnf("init logger: %v", err)
	}

	// 连接数据库
	db, err := store.Open(cfg.Database, false, logger.Info)
	if err != nil {
		logrus.Fatalf("Failed to connect to database: %v", err)
	}
	st := store.NewGormStore(db)

	logrus.Info("Starting database migration...")
	if err := st.Migrate(); err != nil {
		logrus.Fatalf("Failed to migrate database: %v", err)
	}

	// 创建复合索引
	logrus.Info("Creating additional indexes...")
	if err := st.EnsureIndexes(); err != nil {
		logrus.Fatalf("Failed to create indexes: %v", err)
	}

	logrus.Info("Database migration completed successfully!")
}
