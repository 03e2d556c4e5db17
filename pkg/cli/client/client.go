package client

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/LENAX/automation-engine/pkg/api/dto"
)

// Client HTTP API客户端
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New 创建API客户端
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// ========== Task API ==========

// ListTasks 列出所有任务定义
func (c *Client) ListTasks() (*dto.ListResponse[dto.TaskSummary], error) {
	var resp dto.APIResponse[dto.ListResponse[dto.TaskSummary]]
	if err := c.get("/api/v1/tasks", &resp); err != nil {
		return nil, err
	}
	if resp.Code != 0 {
		return nil, errors.New(resp.Message)
	}
	return &resp.Data, nil
}

// GetTask 获取任务定义详情
func (c *Client) GetTask(id string) (*dto.TaskDetail, error) {
	var resp dto.APIResponse[dto.TaskDetail]
	if err := c.get("/api/v1/tasks/"+id, &resp); err != nil {
		return nil, err
	}
	if resp.Code != 0 {
		return nil, errors.New(resp.Message)
	}
	return &resp.Data, nil
}

// CreateTask 创建任务定义
func (c *Client) CreateTask(req dto.SaveTaskRequest) (*dto.TaskSummary, error) {
	var resp dto.APIResponse[dto.TaskSummary]
	if err := c.post("/api/v1/tasks", req, &resp); err != nil {
		return nil, err
	}
	if resp.Code != 0 {
		return nil, errors.New(resp.Message)
	}
	return &resp.Data, nil
}

// UpdateTask 更新任务定义
func (c *Client) UpdateTask(id string, req dto.SaveTaskRequest) (*dto.TaskSummary, error) {
	var resp dto.APIResponse[dto.TaskSummary]
	if err := c.put("/api/v1/tasks/"+id, req, &resp); err != nil {
		return nil, err
	}
	if resp.Code != 0 {
		return nil, errors.New(resp.Message)
	}
	return &resp.Data, nil
}

// DeleteTask 删除任务定义
func (c *Client) DeleteTask(id string) error {
	var resp dto.APIResponse[any]
	if err := c.delete("/api/v1/tasks/"+id, &resp); err != nil {
		return err
	}
	if resp.Code != 0 {
		return errors.New(resp.Message)
	}
	return nil
}

// SetTaskEnabled 启用/禁用任务
func (c *Client) SetTaskEnabled(id string, enabled bool) error {
	req := dto.SetEnabledRequest{Enabled: enabled}
	var resp dto.APIResponse[any]
	if err := c.post("/api/v1/tasks/"+id+"/enabled", req, &resp); err != nil {
		return err
	}
	if resp.Code != 0 {
		return errors.New(resp.Message)
	}
	return nil
}

// ========== Run API ==========

// SubmitRun 手动触发任务运行
func (c *Client) SubmitRun(taskID string) (*dto.SubmitRunResponse, error) {
	var resp dto.APIResponse[dto.SubmitRunResponse]
	if err := c.post("/api/v1/tasks/"+taskID+"/runs", nil, &resp); err != nil {
		return nil, err
	}
	if resp.Code != 0 {
		return nil, errors.New(resp.Message)
	}
	return &resp.Data, nil
}

// GetRun 查询运行状态
func (c *Client) GetRun(id string) (*dto.RunDetail, error) {
	var resp dto.APIResponse[dto.RunDetail]
	if err := c.get("/api/v1/runs/"+id, &resp); err != nil {
		return nil, err
	}
	if resp.Code != 0 {
		return nil, errors.New(resp.Message)
	}
	return &resp.Data, nil
}

// CancelRun 请求取消运行
func (c *Client) CancelRun(id string) error {
	var resp dto.APIResponse[any]
	if err := c.post("/api/v1/runs/"+id+"/cancel", nil, &resp); err != nil {
		return err
	}
	if resp.Code != 0 {
		return errors.New(resp.Message)
	}
	return nil
}

// GetRunHistory 查询任务的运行历史
func (c *Client) GetRunHistory(taskID string, limit int) (*dto.ListResponse[dto.RunSummary], error) {
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", limit))
	}

	path := "/api/v1/tasks/" + taskID + "/runs"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	var resp dto.APIResponse[dto.ListResponse[dto.RunSummary]]
	if err := c.get(path, &resp); err != nil {
		return nil, err
	}
	if resp.Code != 0 {
		return nil, errors.New(resp.Message)
	}
	return &resp.Data, nil
}

// ========== Scheduler API ==========

// SchedulerState 查询调度器状态
func (c *Client) SchedulerState() (*dto.SchedulerStateResponse, error) {
	var resp dto.APIResponse[dto.SchedulerStateResponse]
	if err := c.get("/api/v1/scheduler", &resp); err != nil {
		return nil, err
	}
	if resp.Code != 0 {
		return nil, errors.New(resp.Message)
	}
	return &resp.Data, nil
}

// PauseScheduler 暂停调度器
func (c *Client) PauseScheduler() (*dto.SchedulerStateResponse, error) {
	var resp dto.APIResponse[dto.SchedulerStateResponse]
	if err := c.post("/api/v1/scheduler/pause", nil, &resp); err != nil {
		return nil, err
	}
	if resp.Code != 0 {
		return nil, errors.New(resp.Message)
	}
	return &resp.Data, nil
}

// ResumeScheduler 恢复调度器
func (c *Client) ResumeScheduler() (*dto.SchedulerStateResponse, error) {
	var resp dto.APIResponse[dto.SchedulerStateResponse]
	if err := c.post("/api/v1/scheduler/resume", nil, &resp); err != nil {
		return nil, err
	}
	if resp.Code != 0 {
		return nil, errors.New(resp.Message)
	}
	return &resp.Data, nil
}

// ========== Health API ==========

// Health 健康检查
func (c *Client) Health() (*dto.HealthResponse, error) {
	var resp dto.APIResponse[dto.HealthResponse]
	if err := c.get("/health", &resp); err != nil {
		return nil, err
	}
	if resp.Code != 0 {
		return nil, errors.New(resp.Message)
	}
	return &resp.Data, nil
}

// ========== HTTP Methods ==========

func (c *Client) get(path string, result interface{}) error {
	resp, err := c.httpClient.Get(c.baseURL + path)
	if err != nil {
		return fmt.Errorf("HTTP请求失败: %w", err)
	}
	defer resp.Body.Close()

	return c.parseResponse(resp, result)
}

func (c *Client) post(path string, body interface{}, result interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("序列化请求体失败: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	resp, err := c.httpClient.Post(c.baseURL+path, "application/json", reqBody)
	if err != nil {
		return fmt.Errorf("HTTP请求失败: %w", err)
	}
	defer resp.Body.Close()

	return c.parseResponse(resp, result)
}

func (c *Client) put(path string, body interface{}, result interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("序列化请求体失败: %w", err)
	}

	req, err := http.NewRequest(http.MethodPut, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP请求失败: %w", err)
	}
	defer resp.Body.Close()

	return c.parseResponse(resp, result)
}

func (c *Client) delete(path string, result interface{}) error {
	req, err := http.NewRequest(http.MethodDelete, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("创建请求失败: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP请求失败: %w", err)
	}
	defer resp.Body.Close()

	return c.parseResponse(resp, result)
}

func (c *Client) parseResponse(resp *http.Response, result interface{}) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("读取响应体失败: %w", err)
	}

	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("解析响应失败: %w, body: %s", err, string(body))
	}

	return nil
}
