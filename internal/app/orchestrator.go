/**
 * @description
 * Orchestrators coordinating compute provisioning calls with stored VPS and
 * subscription state. Stopping an instance is reversible and cheap; deleting
 * it is not, so suspend and terminate are kept strictly separate.
 *
 * @notes
 * - Stored status is only updated after the provisioning operation completes:
 *   a failed or timed-out stop must not record the instance as suspended.
 * - Termination is not reported as success until the cloud-side instance is
 *   gone; only then are the VPS record and subscription finalized.
 */
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nimbushost/lifecycle-service/internal/domain"
	"github.com/nimbushost/lifecycle-service/pkg/computeclient"
)

// ComputeGateway defines the provisioning operations the orchestrator needs.
type ComputeGateway interface {
	StartInstance(ctx context.Context, project, zone, instance string) (*computeclient.Operation, error)
	StopInstance(ctx context.Context, project, zone, instance string) (*computeclient.Operation, error)
	DeleteInstance(ctx context.Context, project, zone, instance string) (*computeclient.Operation, error)
	DeleteDisk(ctx context.Context, project, zone, disk string) (*computeclient.Operation, error)
	GetInstance(ctx context.Context, project, zone, instance string) (*computeclient.Instance, error)
	WaitForOperation(ctx context.Context, project, zone string, op *computeclient.Operation) error
}

// OrchestrationResult reports the outcome of a suspend or terminate.
type OrchestrationResult struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// Orchestrator coordinates provisioning calls with storage updates and notification.
type Orchestrator struct {
	repo      Repository
	compute   ComputeGateway
	notifier  *Notifier
	logger    *slog.Logger
	project   string
	opTimeout time.Duration
}

// NewOrchestrator creates a suspend/terminate orchestrator.
func NewOrchestrator(repo Repository, compute ComputeGateway, notifier *Notifier, logger *slog.Logger, project string, opTimeout time.Duration) *Orchestrator {
	return &Orchestrator{
		repo:      repo,
		compute:   compute,
		notifier:  notifier,
		logger:    logger,
		project:   project,
		opTimeout: opTimeout,
	}
}

func (o *Orchestrator) vmFor(ctx context.Context, sub *domain.Subscription) (*domain.VPSInstance, *OrchestrationResult) {
	if sub.VMID == nil {
		return nil, &OrchestrationResult{Message: "subscription has no provisioned instance"}
	}
	vm, err := o.repo.GetVPSByID(ctx, *sub.VMID)
	if err != nil {
		return nil, &OrchestrationResult{Message: fmt.Sprintf("vps lookup failed: %v", err)}
	}
	return vm, nil
}

func (o *Orchestrator) runOperation(ctx context.Context, zone string, op *computeclient.Operation) error {
	opCtx, cancel := context.WithTimeout(ctx, o.opTimeout)
	defer cancel()
	return o.compute.WaitForOperation(opCtx, o.project, zone, op)
}

// StopVPS stops the instance and records it as suspended. No subscription
// fields are touched and no notification is sent; callers own both. Already
// suspended instances are a no-op.
func (o *Orchestrator) StopVPS(ctx context.Context, sub *domain.Subscription) OrchestrationResult {
	vm, failure := o.vmFor(ctx, sub)
	if failure != nil {
		return *failure
	}
	if vm.Status == "suspended" {
		return OrchestrationResult{Success: true, Message: "instance already suspended"}
	}

	op, err := o.compute.StopInstance(ctx, o.project, vm.Zone, vm.InstanceName)
	if err != nil {
		o.logger.Warn("failed to stop instance",
			"subscription_id", sub.ID, "instance", vm.InstanceName, "error", err)
		return OrchestrationResult{Message: fmt.Sprintf("stop failed: %v", err), Retryable: true}
	}
	if err := o.runOperation(ctx, vm.Zone, op); err != nil {
		o.logger.Warn("stop operation did not complete",
			"subscription_id", sub.ID, "instance", vm.InstanceName, "error", err)
		return OrchestrationResult{Message: fmt.Sprintf("stop operation failed: %v", err), Retryable: true}
	}

	if err := o.repo.UpdateVPSStatus(ctx, vm.ID, "suspended"); err != nil {
		return OrchestrationResult{Message: fmt.Sprintf("failed to record suspended status: %v", err)}
	}
	return OrchestrationResult{Success: true, Message: "instance stopped"}
}

// StartVPS restarts a stopped instance and records it as running.
func (o *Orchestrator) StartVPS(ctx context.Context, sub *domain.Subscription) OrchestrationResult {
	vm, failure := o.vmFor(ctx, sub)
	if failure != nil {
		return *failure
	}

	op, err := o.compute.StartInstance(ctx, o.project, vm.Zone, vm.InstanceName)
	if err != nil {
		o.logger.Warn("failed to start instance",
			"subscription_id", sub.ID, "instance", vm.InstanceName, "error", err)
		return OrchestrationResult{Message: fmt.Sprintf("start failed: %v", err), Retryable: true}
	}
	if err := o.runOperation(ctx, vm.Zone, op); err != nil {
		o.logger.Warn("start operation did not complete",
			"subscription_id", sub.ID, "instance", vm.InstanceName, "error", err)
		return OrchestrationResult{Message: fmt.Sprintf("start operation failed: %v", err), Retryable: true}
	}

	if err := o.repo.UpdateVPSStatus(ctx, vm.ID, "running"); err != nil {
		return OrchestrationResult{Message: fmt.Sprintf("failed to record running status: %v", err)}
	}
	return OrchestrationResult{Success: true, Message: "instance started"}
}

// Suspend stops the instance, marks the subscription suspended, and notifies
// the user. Used for the grace-expired transition.
func (o *Orchestrator) Suspend(ctx context.Context, sub *domain.Subscription) OrchestrationResult {
	if res := o.StopVPS(ctx, sub); !res.Success {
		return res
	}

	if err := o.repo.UpdateSubscriptionStatus(ctx, sub.ID, domain.StatusSuspended); err != nil {
		return OrchestrationResult{Message: fmt.Sprintf("failed to mark subscription suspended: %v", err)}
	}

	o.notifier.Notify(ctx, sub.UserID, sub.ID, domain.NotifySuspended, nil)
	return OrchestrationResult{Success: true, Message: "subscription suspended"}
}

// Terminate deletes the cloud-side instance and its boot disk, removes the VPS
// record, finalizes the subscription with the given status, and notifies the
// user. The boot disk deletion is best-effort: a 404 means it is already gone.
func (o *Orchestrator) Terminate(ctx context.Context, sub *domain.Subscription, finalStatus domain.SubscriptionStatus) OrchestrationResult {
	vm, failure := o.vmFor(ctx, sub)
	if failure != nil {
		return *failure
	}

	bootDisk := ""
	inst, err := o.compute.GetInstance(ctx, o.project, vm.Zone, vm.InstanceName)
	switch {
	case err == nil:
		for _, disk := range inst.Disks {
			if disk.Boot {
				bootDisk = diskNameFromSource(disk.Source)
				break
			}
		}

		op, err := o.compute.DeleteInstance(ctx, o.project, vm.Zone, vm.InstanceName)
		if err != nil {
			o.logger.Warn("failed to delete instance",
				"subscription_id", sub.ID, "instance", vm.InstanceName, "error", err)
			return OrchestrationResult{Message: fmt.Sprintf("delete failed: %v", err), Retryable: true}
		}
		if err := o.runOperation(ctx, vm.Zone, op); err != nil {
			o.logger.Warn("delete operation did not complete",
				"subscription_id", sub.ID, "instance", vm.InstanceName, "error", err)
			return OrchestrationResult{Message: fmt.Sprintf("delete operation failed: %v", err), Retryable: true}
		}
	case computeclient.IsNotFound(err):
		// Instance already gone; proceed to record cleanup.
		o.logger.Info("instance already deleted", "subscription_id", sub.ID, "instance", vm.InstanceName)
	default:
		o.logger.Warn("failed to read instance before delete",
			"subscription_id", sub.ID, "instance", vm.InstanceName, "error", err)
		return OrchestrationResult{Message: fmt.Sprintf("instance lookup failed: %v", err), Retryable: true}
	}

	if bootDisk != "" {
		if op, err := o.compute.DeleteDisk(ctx, o.project, vm.Zone, bootDisk); err != nil {
			if !computeclient.IsNotFound(err) {
				o.logger.Warn("failed to delete boot disk",
					"subscription_id", sub.ID, "disk", bootDisk, "error", err)
			}
		} else if err := o.runOperation(ctx, vm.Zone, op); err != nil {
			o.logger.Warn("boot disk delete did not complete",
				"subscription_id", sub.ID, "disk", bootDisk, "error", err)
		}
	}

	if err := o.repo.DeleteVPSRecord(ctx, vm.ID); err != nil {
		return OrchestrationResult{Message: fmt.Sprintf("failed to delete vps record: %v", err)}
	}
	if err := o.repo.MarkTerminated(ctx, sub.ID, finalStatus); err != nil {
		return OrchestrationResult{Message: fmt.Sprintf("failed to finalize subscription: %v", err)}
	}

	kind := domain.NotifyTerminated
	if finalStatus == domain.StatusExpired {
		kind = domain.NotifyExpired
	}
	o.notifier.Notify(ctx, sub.UserID, sub.ID, kind, nil)

	return OrchestrationResult{Success: true, Message: "subscription terminated"}
}

func diskNameFromSource(source string) string {
	if idx := strings.LastIndex(source, "/"); idx >= 0 {
		return source[idx+1:]
	}
	return source
}
