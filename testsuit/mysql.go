//
// Copyright 2023 Bytedance Ltd. and/or its affiliates
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package testsuit

import (
	"fmt"
	"os"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type DBOption struct {
	NoLog bool
}

func gormConfig(opts []DBOption) *gorm.Config {
	cfg := &gorm.Config{}
	for _, opt := range opts {
		if opt.NoLog {
			cfg.Logger = logger.Default.LogMode(logger.Silent)
		}
	}
	return cfg
}

// InitSqlite opens a private in-memory sqlite database
func InitSqlite(name string, opts ...DBOption) *gorm.DB {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), gormConfig(opts))
	if err != nil {
		panic(err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		panic(err)
	}
	// a single connection keeps the memory database alive for the test
	sqlDB.SetMaxOpenConns(1)
	return db
}

// InitMysql connects to the test database started by docker-compose up
func InitMysql(opts ...DBOption) *gorm.DB {
	dsn := "root:@tcp(mysql:3306)/my_db?parseTime=true&loc=Local"
	if os.Getenv("LOCAL_TEST") == "true" {
		dsn = "root:@tcp(localhost:3308)/my_db?parseTime=true&loc=Local"
	}
	db, err := gorm.Open(mysql.Open(dsn), gormConfig(opts))
	if err != nil {
		panic(err)
	}
	return db
}
