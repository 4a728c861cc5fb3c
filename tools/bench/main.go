package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"runtime"
	"strconv"
	"sync"
	"time"

	"chatcore/internal/protocol"
)

// -------------------- 系统监控 --------------------

type SystemStats struct {
	Timestamp   time.Time
	MemoryUsage float64
	MemoryTotal uint64
	MemoryUsed  uint64
	Goroutines  int
}

type Monitor struct {
	stats    []SystemStats
	interval time.Duration
	stopChan chan struct{}
}

func NewMonitor(interval time.Duration) *Monitor {
	return &Monitor{
		stats:    make([]SystemStats, 0, 512),
		interval: interval,
		stopChan: make(chan struct{}),
	}
}

func getMemoryUsage() (usagePercent float64, total, used uint64) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	total = m.Sys
	used = m.Alloc
	if total > 0 {
		usagePercent = float64(used) / float64(total) * 100
	}
	return
}

func (m *Monitor) collectStats() SystemStats {
	memUsage, memTotal, memUsed := getMemoryUsage()
	stats := SystemStats{
		Timestamp:   time.Now(),
		MemoryUsage: memUsage,
		MemoryTotal: memTotal,
		MemoryUsed:  memUsed,
		Goroutines:  runtime.NumGoroutine(),
	}
	m.stats = append(m.stats, stats)
	return stats
}

func (m *Monitor) Start() {
	go func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.printStats(m.collectStats())
			case <-m.stopChan:
				return
			}
		}
	}()
}

func (m *Monitor) Stop() { close(m.stopChan) }

func (m *Monitor) printStats(s SystemStats) {
	fmt.Printf("[%s] 内存: %.1f%% (%.1fMB/%.1fMB) | Goroutines: %d\n",
		s.Timestamp.Format("15:04:05"), s.MemoryUsage,
		float64(s.MemoryUsed)/1024/1024, float64(s.MemoryTotal)/1024/1024,
		s.Goroutines,
	)
}

func (m *Monitor) GenerateReport() {
	if len(m.stats) == 0 {
		fmt.Println("没有监控数据")
		return
	}
	var sumMem float64
	var sumGo int
	var maxMem float64
	var maxGo int
	for _, s := range m.stats {
		sumMem += s.MemoryUsage
		sumGo += s.Goroutines
		if s.MemoryUsage > maxMem {
			maxMem = s.MemoryUsage
		}
		if s.Goroutines > maxGo {
			maxGo = s.Goroutines
		}
	}
	n := float64(len(m.stats))
	fmt.Println("\n=== 系统监控报告 ===")
	fmt.Printf("持续: %v\n", m.stats[len(m.stats)-1].Timestamp.Sub(m.stats[0].Timestamp))
	fmt.Printf("平均内存: %.1f%%, 峰值内存: %.1f%%\n", sumMem/n, maxMem)
	fmt.Printf("平均Goroutine: %d, 峰值Goroutine: %d\n", int(float64(sumGo)/n+0.5), maxGo)
}

func (m *Monitor) SaveToFile(filename string) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer f.Close()
	_, _ = f.WriteString("Timestamp,MemoryUsage,MemoryTotal,MemoryUsed,Goroutines\n")
	for _, s := range m.stats {
		line := fmt.Sprintf("%s,%.2f,%d,%d,%d\n",
			s.Timestamp.Format("2006-01-02 15:04:05"), s.MemoryUsage,
			s.MemoryTotal, s.MemoryUsed, s.Goroutines,
		)
		_, _ = f.WriteString(line)
	}
	return nil
}

// -------------------- TCP 聊天并发压测 --------------------

type ClientStats struct {
	TotalMessages      int
	SuccessfulMessages int
	FailedMessages     int
	AverageLatency     time.Duration
	MaxLatency         time.Duration
	MinLatency         time.Duration
	mu                 sync.Mutex
}

func (s *ClientStats) Add(success bool, latency time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.TotalMessages++
	if success {
		s.SuccessfulMessages++
		if s.AverageLatency == 0 {
			s.AverageLatency = latency
			s.MaxLatency = latency
			s.MinLatency = latency
		} else {
			s.AverageLatency += (latency - s.AverageLatency) / time.Duration(s.SuccessfulMessages)
			if latency > s.MaxLatency {
				s.MaxLatency = latency
			}
			if latency < s.MinLatency {
				s.MinLatency = latency
			}
		}
	} else {
		s.FailedMessages++
	}
}

func writeLine(w *bufio.Writer, env protocol.Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return err
	}
	if _, err := w.Write(body); err != nil {
		return err
	}
	if err := w.WriteByte('\n'); err != nil {
		return err
	}
	return w.Flush()
}

func runClient(addr, username string, messagesPerClient int, stats *ClientStats) {
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		fmt.Printf("client %s: dial failed: %v\n", username, err)
		return
	}
	defer conn.Close()

	writer := bufio.NewWriter(conn)
	reader := bufio.NewReader(conn)

	authEnv, _ := protocol.NewEnvelope(protocol.TypeAuthRequest, protocol.AuthRequestData{
		Action:   "REGISTER",
		Username: username,
		Password: "bench-password",
	})
	if err := writeLine(writer, authEnv); err != nil {
		fmt.Printf("client %s: auth send failed: %v\n", username, err)
		return
	}
	line, err := reader.ReadString('\n')
	var authResp protocol.Envelope
	if err == nil {
		err = json.Unmarshal([]byte(line), &authResp)
	}
	if err != nil || authResp.Type == protocol.TypeError {
		// REGISTER may fail if the user already exists from a prior run;
		// retry with LOGIN before giving up.
		loginEnv, _ := protocol.NewEnvelope(protocol.TypeAuthRequest, protocol.AuthRequestData{
			Action:   "LOGIN",
			Username: username,
			Password: "bench-password",
		})
		if err := writeLine(writer, loginEnv); err != nil {
			fmt.Printf("client %s: login send failed: %v\n", username, err)
			return
		}
		if _, err := reader.ReadString('\n'); err != nil {
			fmt.Printf("client %s: login response failed: %v\n", username, err)
			return
		}
	}

	for i := 0; i < messagesPerClient; i++ {
		start := time.Now()
		chatEnv, _ := protocol.NewEnvelope(protocol.TypeChatMessage, protocol.ChatMessageData{
			Room:    protocol.DefaultRoom,
			From:    username,
			Content: fmt.Sprintf("load test message %d from %s", i, username),
		})
		ok := writeLine(writer, chatEnv) == nil
		if ok {
			_, err := reader.ReadString('\n')
			ok = err == nil
		}
		stats.Add(ok, time.Since(start))
		time.Sleep(5 * time.Millisecond)
	}

	logoutEnv, _ := protocol.NewEnvelope(protocol.TypeLogout, struct{}{})
	_ = writeLine(writer, logoutEnv)
}

func runChatBench(addr string, concurrency, messagesPerClient int) {
	fmt.Println("\n=== TCP 聊天并发测试开始 ===")
	fmt.Printf("目标: %s 并发连接: %d 每连接消息数: %d\n", addr, concurrency, messagesPerClient)

	stats := &ClientStats{}
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			username := fmt.Sprintf("benchuser%d", id)
			runClient(addr, username, messagesPerClient, stats)
		}(i)
	}
	wg.Wait()

	took := time.Since(start)
	fmt.Println("\n=== TCP 聊天测试结果 ===")
	fmt.Printf("耗时: %v\n", took)
	fmt.Printf("总消息: %d 成功: %d 失败: %d\n", stats.TotalMessages, stats.SuccessfulMessages, stats.FailedMessages)
	fmt.Printf("延迟 平均: %v 最大: %v 最小: %v\n", stats.AverageLatency, stats.MaxLatency, stats.MinLatency)
	if took > 0 {
		mps := float64(stats.SuccessfulMessages) / took.Seconds()
		fmt.Printf("消息/秒: %.2f\n", mps)
	}
	if stats.TotalMessages > 0 {
		rate := float64(stats.SuccessfulMessages) / float64(stats.TotalMessages) * 100
		fmt.Printf("成功率: %.2f%%\n", rate)
	}
}

// -------------------- 入口 --------------------

func main() {
	concurrency := argInt(1, 10)
	messagesPerClient := argInt(2, 20)
	monitorSeconds := argInt(3, 15)

	addr := "127.0.0.1:9090"
	if v := os.Getenv("CHATCORE_BENCH_ADDR"); v != "" {
		addr = v
	}

	fmt.Println("=== chatcore TCP 并发与监控测试 ===")
	fmt.Printf("开始时间: %s\n", time.Now().Format("2006-01-02 15:04:05"))
	fmt.Printf("目标: %s 并发: %d 每连接消息: %d 监控: %ds\n", addr, concurrency, messagesPerClient, monitorSeconds)

	mon := NewMonitor(1 * time.Second)
	mon.Start()
	go func() {
		time.Sleep(time.Duration(monitorSeconds) * time.Second)
		mon.Stop()
	}()

	runChatBench(addr, concurrency, messagesPerClient)

	time.Sleep(time.Duration(monitorSeconds+1) * time.Second)
	mon.GenerateReport()
	if err := mon.SaveToFile("system_monitor.csv"); err != nil {
		fmt.Println("保存监控数据失败:", err)
	} else {
		fmt.Println("监控数据已保存: system_monitor.csv")
	}

	fmt.Println("\n=== 测试完成 ===")
}

func argInt(index int, fallback int) int {
	if len(os.Args) > index {
		if v, err := strconv.Atoi(os.Args[index]); err == nil {
			return v
		}
	}
	return fallback
}
