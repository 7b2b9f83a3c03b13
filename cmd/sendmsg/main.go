package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/jacobdh/eventmq/internal/client"
	"github.com/jacobdh/eventmq/internal/emqp"
	"github.com/jacobdh/eventmq/internal/job"
)

// sendmsg：向 eMQP 对端循环发送任务下发消息的调试工具
//
// 用法：sendmsg [flags] <address> [<path> <callable> [arg...]]
// 只给地址时发送内置测试任务（eventmq.scheduler/test_job）

var (
	queue     = flag.String("queue", emqp.DefaultQueue, "目标队列")
	count     = flag.Int("count", 0, "发送次数，0 表示不停发送")
	interval  = flag.Duration("interval", 0, "两次发送之间的间隔")
	guarantee = flag.Bool("guarantee", true, "要求投递确认（等待 ACK）")
	reply     = flag.Bool("reply", true, "要求结果回复")
)

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [flags] <address> [<path> <callable> [arg...]]\n", os.Args[0])
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()

	req, addr, err := buildRequest(flag.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", os.Args[0], err)
		usage()
		os.Exit(1)
	}

	conn, err := emqp.Dial(addr, 10*time.Second)
	if err != nil {
		log.Fatalf("Failed to connect to %s: %v", addr, err)
	}
	defer conn.Close()

	opts := client.RequestOptions{
		Queue:          *queue,
		Guarantee:      *guarantee,
		ReplyRequested: *reply,
	}

	// 同一条消息值循环复用
	for i := 0; *count == 0 || i < *count; i++ {
		if _, err := client.SendRequest(conn, req, opts); err != nil {
			log.Fatalf("Send failed: %v", err)
		}

		if *interval > 0 {
			time.Sleep(*interval)
		}
	}
}

// buildRequest 从位置参数构造任务描述
// 地址缺失或只给 path 不给 callable 视为用法错误
func buildRequest(args []string) (*job.Request, string, error) {
	if len(args) < 1 {
		return nil, "", fmt.Errorf("address is required")
	}
	addr := args[0]

	// 缺省：内置测试任务，四个参数容器全空
	if len(args) == 1 {
		return job.NewRequest("eventmq.scheduler", "test_job"), addr, nil
	}

	if len(args) < 3 {
		return nil, "", fmt.Errorf("callable is required when path is given")
	}

	req := job.NewRequest(args[1], args[2])
	for _, a := range args[3:] {
		req.Args = append(req.Args, a)
	}

	return req, addr, nil
}
