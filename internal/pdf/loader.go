package pdf

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/sirupsen/logrus"
)

// Page 文档中的单个页面
// 页码使用文档原生编号（从1开始），提取后内容不可变
type Page struct {
	Number int    // 页码
	Text   string // 页面文本内容
}

// Document 解析后的文档
// 页面按页码升序排列
type Document struct {
	Source string // 源文件路径
	Pages  []Page // 页面列表
}

// PageCount 返回文档页数
func (d *Document) PageCount() int {
	return len(d.Pages)
}

// DefaultMinPages 书籍页数的最低要求
// 低于该值只产生警告，不中断处理
const DefaultMinPages = 200

// LoaderConfig 加载器配置
type LoaderConfig struct {
	MinPages int // 最低页数要求（0表示不检查）
}

// Loader PDF文档加载器
// 将PDF文件解析为按页组织的文本单元
type Loader struct {
	config LoaderConfig
	logger *logrus.Logger
}

// LoaderOption 加载器配置选项
type LoaderOption func(*Loader)

// WithMinPages 设置最低页数要求
func WithMinPages(n int) LoaderOption {
	return func(l *Loader) {
		l.config.MinPages = n
	}
}

// WithLogger 设置日志记录器
func WithLogger(logger *logrus.Logger) LoaderOption {
	return func(l *Loader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLoader 创建PDF加载器
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{
		config: LoaderConfig{MinPages: DefaultMinPages},
		logger: logrus.New(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// pageFilePattern 匹配pdfcpu提取出的页面文件名中的页码
var pageFilePattern = regexp.MustCompile(`page_?(\d+)\.txt$`)

// Load 加载并解析PDF文件
// 相对路径基于当前工作目录解析；文件不存在时返回错误
func (l *Loader) Load(ctx context.Context, pdfPath string) (*Document, error) {
	if !filepath.IsAbs(pdfPath) {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve working directory: %w", err)
		}
		pdfPath = filepath.Join(cwd, pdfPath)
	}

	if _, err := os.Stat(pdfPath); err != nil {
		return nil, fmt.Errorf("PDF not found at %s: %w", pdfPath, err)
	}

	pageCount, err := api.PageCountFile(pdfPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read PDF page count: %w", err)
	}
	if pageCount == 0 {
		return nil, fmt.Errorf("PDF has no pages: %s", pdfPath)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	texts, err := l.extractPageTexts(pdfPath)
	if err != nil {
		return nil, err
	}

	doc := &Document{
		Source: pdfPath,
		Pages:  make([]Page, 0, pageCount),
	}
	for n := 1; n <= pageCount; n++ {
		// 没有提取到文本的页面保留为空页，分块阶段会跳过
		doc.Pages = append(doc.Pages, Page{Number: n, Text: texts[n]})
	}

	if l.config.MinPages > 0 && pageCount < l.config.MinPages {
		l.logger.WithFields(logrus.Fields{
			"pages":     pageCount,
			"min_pages": l.config.MinPages,
			"source":    pdfPath,
		}).Warnf("The PDF has only %d pages (<%d)", pageCount, l.config.MinPages)
	}

	return doc, nil
}

// extractPageTexts 使用pdfcpu提取每页文本
// 提取结果写入临时目录，每页一个txt文件，按文件名中的页码归位
func (l *Loader) extractPageTexts(pdfPath string) (map[int]string, error) {
	tmpDir, err := os.MkdirTemp("", "pdf_extract_")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	conf := model.NewDefaultConfiguration()
	if err := api.ExtractContentFile(pdfPath, tmpDir, nil, conf); err != nil {
		return nil, fmt.Errorf("failed to extract text from PDF: %w", err)
	}

	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read extracted text dir: %w", err)
	}

	texts := make(map[int]string, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, ".txt") {
			continue
		}
		pageNum := parsePageNumber(name)
		if pageNum <= 0 {
			continue
		}
		data, err := os.ReadFile(filepath.Join(tmpDir, name))
		if err != nil {
			continue
		}
		texts[pageNum] = strings.TrimSpace(string(data))
	}

	return texts, nil
}

// parsePageNumber 从提取文件名中解析页码
func parsePageNumber(name string) int {
	m := pageFilePattern.FindStringSubmatch(name)
	if len(m) != 2 {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return n
}
