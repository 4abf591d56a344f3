package providers

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/openfroyo/froyodeploy/pkg/automation"
	"github.com/openfroyo/froyodeploy/pkg/engine"
	"github.com/zeebo/blake3"
)

// ImageTag derives the image tag of one attempt: the first 12 hex characters
// of the BLAKE3 digest of the project name and attempt id.
func ImageTag(projectName, attemptID string) string {
	sum := blake3.Sum256([]byte(projectName + "\x00" + attemptID))
	return hex.EncodeToString(sum[:])[:12]
}

// ImageRef is the fully qualified image reference of one attempt.
func ImageRef(cfg *engine.ProjectConfig) string {
	return cfg.ContainerCluster.Registry + ":" + ImageTag(cfg.Name, cfg.AttemptID)
}

// ContainerClusterAdapter deploys a self-built image to a Fargate service behind
// an application load balancer.
type ContainerClusterAdapter struct{}

// NewContainerClusterAdapter creates the container-cluster adapter.
func NewContainerClusterAdapter() *ContainerClusterAdapter {
	return &ContainerClusterAdapter{}
}

// Kind implements Adapter.
func (a *ContainerClusterAdapter) Kind() engine.ProviderKind {
	return engine.ProviderContainerCluster
}

// NeedsSource implements Adapter.
func (a *ContainerClusterAdapter) NeedsSource() bool {
	return true
}

// Validate implements Adapter.
func (a *ContainerClusterAdapter) Validate(cfg *engine.ProjectConfig) error {
	c := cfg.ContainerCluster
	if c == nil {
		return invalid(a.Kind(), "container cluster config missing")
	}
	if !validFargateSize(c.CPU, c.Memory) {
		return invalid(a.Kind(), "unsupported task size cpu=%d memory=%d", c.CPU, c.Memory)
	}
	if strings.Contains(c.Registry, "@") {
		return invalid(a.Kind(), "registry must not carry a digest")
	}
	return nil
}

// fargateMemory lists the memory sizes allowed per CPU value.
var fargateMemory = map[int][2]int{
	256:  {512, 2048},
	512:  {1024, 4096},
	1024: {2048, 8192},
	2048: {4096, 16384},
	4096: {8192, 30720},
}

func validFargateSize(cpu, memory int) bool {
	r, ok := fargateMemory[cpu]
	if !ok {
		return false
	}
	if cpu == 256 {
		return memory == 512 || memory == 1024 || memory == 2048
	}
	return memory >= r[0] && memory <= r[1] && memory%1024 == 0
}

// BuildProgramInputs implements Adapter. cfg.ContainerCluster.Image must hold
// the pushed reference.
func (a *ContainerClusterAdapter) BuildProgramInputs(cfg *engine.ProjectConfig) (*ProgramInputs, error) {
	c := cfg.ContainerCluster
	if c == nil || c.Image == "" {
		return nil, invalid(a.Kind(), "image reference missing")
	}

	p := automation.NewProgram(programName(cfg), "Container service for "+cfg.Name)
	in := &ProgramInputs{Program: p}
	in.add("aws:region", c.Region, false)

	p.Add("vpc", "aws:ec2:Vpc", map[string]any{
		"cidrBlock":          "10.0.0.0/16",
		"enableDnsHostnames": true,
		"enableDnsSupport":   true,
		"tags":               tags(cfg, "vpc"),
	})
	for i, zone := range []string{"a", "b"} {
		p.Add(fmt.Sprintf("subnet%d", i+1), "aws:ec2:Subnet", map[string]any{
			"vpcId":               automation.Ref("vpc.id"),
			"cidrBlock":           fmt.Sprintf("10.0.%d.0/24", i+1),
			"availabilityZone":    c.Region + zone,
			"mapPublicIpOnLaunch": true,
			"tags":                tags(cfg, fmt.Sprintf("subnet-%d", i+1)),
		})
	}
	p.Add("gateway", "aws:ec2:InternetGateway", map[string]any{
		"vpcId": automation.Ref("vpc.id"),
		"tags":  tags(cfg, "igw"),
	})
	p.Add("routeTable", "aws:ec2:RouteTable", map[string]any{
		"vpcId": automation.Ref("vpc.id"),
		"routes": []any{map[string]any{
			"cidrBlock": "0.0.0.0/0",
			"gatewayId": automation.Ref("gateway.id"),
		}},
		"tags": tags(cfg, "rt"),
	})
	for i := 1; i <= 2; i++ {
		p.Add(fmt.Sprintf("routeAssoc%d", i), "aws:ec2:RouteTableAssociation", map[string]any{
			"subnetId":     automation.Ref(fmt.Sprintf("subnet%d.id", i)),
			"routeTableId": automation.Ref("routeTable.id"),
		})
	}
	p.Add("securityGroup", "aws:ec2:SecurityGroup", map[string]any{
		"vpcId":       automation.Ref("vpc.id"),
		"description": "Ingress for " + cfg.Name,
		"ingress": []any{
			map[string]any{"protocol": "tcp", "fromPort": 80, "toPort": 80, "cidrBlocks": []string{"0.0.0.0/0"}},
			map[string]any{"protocol": "tcp", "fromPort": c.Port, "toPort": c.Port, "self": true},
		},
		"egress": []any{
			map[string]any{"protocol": "-1", "fromPort": 0, "toPort": 0, "cidrBlocks": []string{"0.0.0.0/0"}},
		},
		"tags": tags(cfg, "sg"),
	})

	p.Add("cluster", "aws:ecs:Cluster", map[string]any{
		"name":     cfg.Name + "-cluster",
		"settings": []any{map[string]any{"name": "containerInsights", "value": "enabled"}},
		"tags":     tags(cfg, "cluster"),
	})
	p.Add("logGroup", "aws:cloudwatch:LogGroup", map[string]any{
		"retentionInDays": 14,
		"tags":            tags(cfg, "logs"),
	})
	p.Add("executionRole", "aws:iam:Role", map[string]any{
		"assumeRolePolicy": map[string]any{
			"fn::toJSON": map[string]any{
				"Version": "2012-10-17",
				"Statement": []any{map[string]any{
					"Action":    "sts:AssumeRole",
					"Effect":    "Allow",
					"Principal": map[string]any{"Service": "ecs-tasks.amazonaws.com"},
				}},
			},
		},
	})
	p.Add("executionPolicy", "aws:iam:RolePolicyAttachment", map[string]any{
		"role":      automation.Ref("executionRole.name"),
		"policyArn": "arn:aws:iam::aws:policy/service-role/AmazonECSTaskExecutionRolePolicy",
	})

	p.Add("loadBalancer", "aws:lb:LoadBalancer", map[string]any{
		"loadBalancerType": "application",
		"securityGroups":   []string{automation.Ref("securityGroup.id")},
		"subnets":          []string{automation.Ref("subnet1.id"), automation.Ref("subnet2.id")},
		"tags":             tags(cfg, "lb"),
	}, "gateway")
	p.Add("targetGroup", "aws:lb:TargetGroup", map[string]any{
		"port":       c.Port,
		"protocol":   "HTTP",
		"targetType": "ip",
		"vpcId":      automation.Ref("vpc.id"),
		"healthCheck": map[string]any{
			"path":     automation.Literal(c.HealthCheckPath),
			"protocol": "HTTP",
			"matcher":  "200-399",
		},
	})
	p.Add("listener", "aws:lb:Listener", map[string]any{
		"loadBalancerArn": automation.Ref("loadBalancer.arn"),
		"port":            80,
		"protocol":        "HTTP",
		"defaultActions": []any{map[string]any{
			"type":           "forward",
			"targetGroupArn": automation.Ref("targetGroup.arn"),
		}},
	})

	env := make([]any, 0, len(cfg.EnvVars)+1)
	hasPort := false
	for _, v := range cfg.EnvVars {
		if v.Key == "PORT" {
			hasPort = true
		}
		value := automation.Literal(v.Value)
		if v.IsSecret {
			key := secretEnvKey(v.Key)
			in.add(key, v.Value, true)
			value = automation.Ref(key)
		}
		env = append(env, map[string]any{"name": v.Key, "value": value})
	}
	if !hasPort {
		env = append(env, map[string]any{"name": "PORT", "value": fmt.Sprint(c.Port)})
	}

	p.Add("taskDefinition", "aws:ecs:TaskDefinition", map[string]any{
		"family":                  cfg.Name + "-task",
		"cpu":                     fmt.Sprint(c.CPU),
		"memory":                  fmt.Sprint(c.Memory),
		"networkMode":             "awsvpc",
		"requiresCompatibilities": []string{"FARGATE"},
		"executionRoleArn":        automation.Ref("executionRole.arn"),
		"containerDefinitions": map[string]any{
			"fn::toJSON": []any{map[string]any{
				"name":         cfg.Name,
				"image":        c.Image,
				"essential":    true,
				"portMappings": []any{map[string]any{"containerPort": c.Port, "protocol": "tcp"}},
				"environment":  env,
				"logConfiguration": map[string]any{
					"logDriver": "awslogs",
					"options": map[string]any{
						"awslogs-group":         automation.Ref("logGroup.name"),
						"awslogs-region":        c.Region,
						"awslogs-stream-prefix": cfg.Name,
					},
				},
			}},
		},
	})
	p.Add("service", "aws:ecs:Service", map[string]any{
		"name":           cfg.Name + "-service",
		"cluster":        automation.Ref("cluster.arn"),
		"desiredCount":   c.DesiredCount,
		"launchType":     "FARGATE",
		"taskDefinition": automation.Ref("taskDefinition.arn"),
		"networkConfiguration": map[string]any{
			"assignPublicIp": true,
			"subnets":        []string{automation.Ref("subnet1.id"), automation.Ref("subnet2.id")},
			"securityGroups": []string{automation.Ref("securityGroup.id")},
		},
		"loadBalancers": []any{map[string]any{
			"targetGroupArn": automation.Ref("targetGroup.arn"),
			"containerName":  cfg.Name,
			"containerPort":  c.Port,
		}},
		"forceNewDeployment": true,
		"tags":               tags(cfg, "service"),
	}, "listener")

	p.Outputs[engine.OutputURL] = "http://" + automation.Ref("loadBalancer.dnsName")
	p.Outputs[engine.OutputResourceID] = automation.Ref("service.name")
	p.Outputs[engine.OutputImage] = c.Image

	return in, nil
}

// InterpretOutputs implements Adapter.
func (a *ContainerClusterAdapter) InterpretOutputs(raw map[string]any) (*engine.DeploymentResult, error) {
	return interpret(a.Kind(), raw, engine.OutputURL, engine.OutputResourceID, engine.OutputImage)
}

func tags(cfg *engine.ProjectConfig, suffix string) map[string]string {
	return map[string]string{
		"Name":          cfg.Name + "-" + suffix,
		"froyo:project": cfg.Name,
		"froyo:stack":   cfg.StackID,
	}
}
