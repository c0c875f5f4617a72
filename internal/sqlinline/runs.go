package sqlinline

const QInsertAgentRun = `--sql 65a1e270-cd0e-40ff-bc43-60e43aa590a4
insert into agent_runs(id, owner_id, work_item_id, status, iterations, created_at, updated_at)
values ($1::uuid, $2::uuid, $3::uuid, $4::text, 0, now(), now());
`

const QGetAgentRun = `--sql 78acd03e-464b-4245-8293-2302e41d770f
select id, owner_id, work_item_id, status, iterations, created_at, updated_at
from agent_runs
where id = $1::uuid;
`

const QUpdateAgentRunStatus = `--sql a3f80a9e-d3fa-4888-910b-8443f9b46d74
update agent_runs
set status = $3::text, updated_at = now()
where id = $1::uuid and status = $2::text;
`

const QAppendAgentRunLog = `--sql 1a1bf5aa-772e-4ed1-b8bc-b4180cb3c83e
insert into agent_run_logs(run_id, at, severity, message)
values ($1::uuid, $2::timestamptz, $3::text, $4::text);
`

const QAgentRunLogs = `--sql 875ba2a8-bed9-4d28-97e9-215e7c8da998
select at, severity, message
from agent_run_logs
where run_id = $1::uuid
order by at asc, id asc;
`

const QIncrementAgentRunIterations = `--sql b070be54-9433-4fe2-a670-5570357f60f7
update agent_runs
set iterations = iterations + 1, updated_at = now()
where id = $1::uuid;
`

const QClaimAgentRun = `--sql f7633552-f7e7-45b4-9c24-a03dfa8d4b93
with next_run as (
    select id
    from agent_runs
    where status = 'pending'
    order by created_at asc
    for update skip locked
    limit 1
),
claimed as (
    update agent_runs
    set status = 'running', updated_at = now()
    where id in (select id from next_run)
    returning id, owner_id, work_item_id, status, iterations, created_at, updated_at
)
select * from claimed;
`
