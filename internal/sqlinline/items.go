package sqlinline

const QInsertWorkItem = `--sql 51be2751-c8c9-41d3-b0e1-94f15d0ed8d2
insert into work_items(id, owner_id, kind, model, progress, input_json, variants, parent_id, created_at, updated_at)
values ($1::uuid, $2::uuid, $3::text, $4::text, $5::text, coalesce($6::jsonb, '{}'::jsonb), $7::int, $8::uuid, now(), now());
`

const QGetWorkItem = `--sql 7ae4a25b-4abb-4ff6-8ff5-6b18a5d59dd6
select id, owner_id, kind, model, progress, coalesce(error_message, ''), input_json, output_json, variants, coalesce(parent_id::text, ''), created_at, updated_at
from work_items
where id = $1::uuid;
`

const QListWorkItemsByOwner = `--sql 267ea773-8362-49b9-a1a3-79d41bc9dafa
select id, owner_id, kind, model, progress, coalesce(error_message, ''), input_json, output_json, variants, coalesce(parent_id::text, ''), created_at, updated_at
from work_items
where owner_id = $1::uuid
order by created_at desc
limit $2::int;
`

const QAdvanceWorkItem = `--sql 8e835647-c7ae-490e-99bc-df6fcb1e0817
update work_items
set progress = $2::text, updated_at = now()
where id = $1::uuid
  and progress not in ('complete', 'failed');
`

const QFailWorkItem = `--sql 81fd115a-0f04-4171-8c18-a06c479dbd36
update work_items
set progress = 'failed', error_message = $2::text, updated_at = now()
where id = $1::uuid
  and progress not in ('complete', 'failed');
`

const QSetWorkItemOutput = `--sql f05171cd-28cd-45b3-bf96-2bd34ed1c46e
update work_items
set output_json = $2::jsonb, updated_at = now()
where id = $1::uuid;
`

const QClaimWorkItem = `--sql 9e5c72fd-e059-4f7e-9e3c-7f644c8d91ba
with next_item as (
    select id
    from work_items
    where progress = 'queued' and kind = any($1::text[])
    order by created_at asc
    for update skip locked
    limit 1
),
claimed as (
    update work_items
    set progress = 'validating', updated_at = now()
    where id in (select id from next_item)
    returning id, owner_id, kind, model, progress, coalesce(error_message, ''), input_json, output_json, variants, coalesce(parent_id::text, ''), created_at, updated_at
)
select * from claimed;
`

const QDeleteWorkItem = `--sql 44bcf708-9684-45b0-87fb-86804a0f9f4d
delete from work_items
where id = $1::uuid or parent_id = $1::uuid;
`
