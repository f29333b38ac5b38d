// 从 YAML 文件导入问卷实例
//
// 题目在 YAML 中按结构书写，导入前会转换为 JSON 并做与作者编辑相同的校验。
// 没有 questions 字段时使用默认题目。
//
// 用法: go run scripts/seed_survey.go -file scripts/surveys/example.yaml

package main

import (
	"advanced_survey_backend/internal/config"
	"advanced_survey_backend/internal/repository"
	"advanced_survey_backend/internal/service"
	"advanced_survey_backend/internal/survey"
	"advanced_survey_backend/pkg/database"
	"advanced_survey_backend/pkg/logger"
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"

	"gopkg.in/yaml.v3"
)

type surveyFile struct {
	CourseID       string                   `yaml:"course_id"`
	DisplayName    string                   `yaml:"display_name"`
	BlockName      string                   `yaml:"block_name"`
	Feedback       string                   `yaml:"feedback"`
	MaxSubmissions *int                     `yaml:"max_submissions"`
	CreatorID      uint                     `yaml:"creator_id"`
	Questions      []map[string]interface{} `yaml:"questions"`
}

func main() {
	configDir := flag.String("config", "configs", "配置文件目录")
	file := flag.String("file", "", "问卷 YAML 文件")
	flag.Parse()

	if *file == "" {
		log.Fatal("缺少 -file 参数")
	}

	cfg, err := config.LoadConfig(*configDir)
	if err != nil {
		log.Fatalf("无法读取配置文件: %v", err)
	}
	logger.InitLogger(cfg)

	data, err := os.ReadFile(*file)
	if err != nil {
		log.Fatalf("无法读取问卷文件: %v", err)
	}
	var sf surveyFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		log.Fatalf("解析问卷文件失败: %v", err)
	}
	if sf.CourseID == "" {
		log.Fatal("问卷文件缺少 course_id")
	}

	req := service.CreateSurveyRequest{
		CourseID:       sf.CourseID,
		DisplayName:    sf.DisplayName,
		BlockName:      sf.BlockName,
		Feedback:       sf.Feedback,
		MaxSubmissions: sf.MaxSubmissions,
	}
	if len(sf.Questions) > 0 {
		raw, err := json.Marshal(sf.Questions)
		if err != nil {
			log.Fatalf("题目转换失败: %v", err)
		}
		// 先校验，写库前给出具体的题目位置
		if _, err := survey.ParseSchema(string(raw)); err != nil {
			log.Fatalf("题目校验失败: %v", err)
		}
		req.Questions = string(raw)
	}

	db, err := database.InitDB(cfg)
	if err != nil {
		log.Fatalf("数据库连接失败: %v", err)
	}

	// 创建问卷只用到问卷存储
	svc := service.NewSurveyService(repository.NewSurveyRepository(db), nil, nil, nil, nil, nil, cfg.Survey.DefaultMaxSubmissions)
	sv, err := svc.CreateSurvey(context.Background(), sf.CreatorID, req)
	if err != nil {
		log.Fatalf("创建问卷失败: %v", err)
	}
	log.Printf("问卷已创建: id=%d block=%s", sv.ID, sv.BlockName)
}
